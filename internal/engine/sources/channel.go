package sources

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	twitter "github.com/anatolykoptev/go-twitter"

	"github.com/anatolykoptev/go_shorts/internal/engine"
)

// channelPromptLimit caps the channel JSON sent to the assessment prompt.
const channelPromptLimit = 5000

// MentionSearcher returns short texts that mention a query (social signal).
type MentionSearcher interface {
	SearchMentions(ctx context.Context, query string, limit int) ([]string, error)
}

// TwitterMentions searches recent tweets through go-twitter.
type TwitterMentions struct {
	Client *twitter.Client
}

func (t TwitterMentions) SearchMentions(ctx context.Context, query string, limit int) ([]string, error) {
	if t.Client == nil {
		return nil, errors.New("twitter client not configured")
	}
	tweets, err := t.Client.SearchTimeline(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("twitter search: %w", err)
	}
	out := make([]string, 0, len(tweets))
	for _, tw := range tweets {
		out = append(out, fmt.Sprintf("%s (likes %d, rt %d)", engine.TruncateAtWord(tw.Text, 200), tw.Likes, tw.Retweets))
	}
	return out, nil
}

// ChannelConfig configures ChannelInspector.
type ChannelConfig struct {
	YTDLP     string
	Cookies   string
	MaxRecent int
	Runner    CommandRunner   // nil = ExecRunner
	Mentions  MentionSearcher // nil = no social signal
	// Assess produces the trust summary; defaults to engine.CallLLM.
	Assess func(ctx context.Context, system, prompt string) (string, error)
	// AboutURL builds the about-page URL; defaults to <channel>/about.
	AboutURL func(channelURL string) string
	Logger   *slog.Logger
}

// ChannelInspector gathers channel identity, about-page data and recent
// uploads, then asks the LLM for a short trust assessment.
type ChannelInspector struct {
	cfg ChannelConfig
	log *slog.Logger
}

func NewChannelInspector(cc ChannelConfig) *ChannelInspector {
	if cc.YTDLP == "" {
		cc.YTDLP = "yt-dlp"
	}
	if cc.MaxRecent <= 0 {
		cc.MaxRecent = 5
	}
	if cc.Runner == nil {
		cc.Runner = ExecRunner{}
	}
	if cc.Assess == nil {
		cc.Assess = func(ctx context.Context, system, prompt string) (string, error) {
			return engine.CallLLM(ctx, system, prompt)
		}
	}
	if cc.AboutURL == nil {
		cc.AboutURL = func(channelURL string) string { return strings.TrimRight(channelURL, "/") + "/about" }
	}
	if cc.Logger == nil {
		cc.Logger = slog.Default()
	}
	return &ChannelInspector{cfg: cc, log: cc.Logger.With("component", "channel")}
}

type videoInfo struct {
	Channel     string `json:"channel"`
	ChannelID   string `json:"channel_id"`
	ChannelURL  string `json:"channel_url"`
	Uploader    string `json:"uploader"`
	UploaderURL string `json:"uploader_url"`
}

// LookupChannel resolves the channel behind sourceURL. Only the identity
// lookup is mandatory; about page, uploads, mentions and the assessment
// degrade to empty fields on failure.
func (c *ChannelInspector) LookupChannel(ctx context.Context, sourceURL string) (engine.ChannelReport, error) {
	meta, err := c.identity(ctx, sourceURL)
	if err != nil {
		return engine.ChannelReport{}, err
	}

	if err := c.about(ctx, &meta); err != nil {
		c.log.Warn("about page unavailable", slog.String("channel", meta.URL), slog.Any("error", err))
	}
	meta.RecentTitles = c.recentTitles(ctx, meta.URL)

	if c.cfg.Mentions != nil && meta.Name != "" {
		mentions, err := c.cfg.Mentions.SearchMentions(ctx, strconv.Quote(meta.Name), 10)
		if err != nil {
			c.log.Warn("mention search failed", slog.String("channel", meta.Name), slog.Any("error", err))
		} else {
			meta.Mentions = mentions
		}
	}

	report := engine.ChannelReport{Meta: meta}
	assessment, err := c.cfg.Assess(ctx, engine.ChannelSystemPrompt, fmt.Sprintf(engine.ChannelUserPrompt, meta.MetaJSON(channelPromptLimit)))
	if err != nil {
		if ctx.Err() != nil {
			return engine.ChannelReport{}, ctx.Err()
		}
		c.log.Warn("channel assessment failed", slog.String("channel", meta.Name), slog.Any("error", err))
	} else {
		report.Assessment = strings.TrimSpace(assessment)
	}
	return report, nil
}

func (c *ChannelInspector) ytdlpArgs(args ...string) []string {
	if strings.TrimSpace(c.cfg.Cookies) != "" {
		args = append([]string{"--cookies", c.cfg.Cookies}, args...)
	}
	return args
}

func (c *ChannelInspector) identity(ctx context.Context, sourceURL string) (engine.ChannelMeta, error) {
	out, err := c.cfg.Runner.Run(ctx, c.cfg.YTDLP, c.ytdlpArgs("--dump-json", "--no-download", "--no-cache-dir", "--no-playlist", sourceURL)...)
	if err != nil {
		return engine.ChannelMeta{}, fmt.Errorf("channel identity: %w", classifyDownloadError(err))
	}
	var info videoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return engine.ChannelMeta{}, fmt.Errorf("channel identity: decode: %w", err)
	}
	meta := engine.ChannelMeta{
		Name: firstNonEmpty(info.Channel, info.Uploader),
		ID:   info.ChannelID,
		URL:  firstNonEmpty(info.ChannelURL, info.UploaderURL),
	}
	if meta.URL == "" {
		return engine.ChannelMeta{}, errors.New("channel identity: no channel url")
	}
	return meta, nil
}

// ytAboutData is the subset of the channel page's ytInitialData we read.
type ytAboutData struct {
	Metadata struct {
		ChannelMetadataRenderer struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Keywords    string `json:"keywords"`
			ExternalID  string `json:"externalId"`
			ChannelURL  string `json:"channelUrl"`
		} `json:"channelMetadataRenderer"`
	} `json:"metadata"`
	OnResponseReceivedEndpoints []struct {
		ShowEngagementPanelEndpoint struct {
			EngagementPanel struct {
				EngagementPanelSectionListRenderer struct {
					Content struct {
						SectionListRenderer struct {
							Contents []struct {
								ItemSectionRenderer struct {
									Contents []struct {
										AboutChannelRenderer struct {
											Metadata struct {
												AboutChannelViewModel *aboutViewModel `json:"aboutChannelViewModel"`
											} `json:"metadata"`
										} `json:"aboutChannelRenderer"`
									} `json:"contents"`
								} `json:"itemSectionRenderer"`
							} `json:"contents"`
						} `json:"sectionListRenderer"`
					} `json:"content"`
				} `json:"engagementPanelSectionListRenderer"`
			} `json:"engagementPanel"`
		} `json:"showEngagementPanelEndpoint"`
	} `json:"onResponseReceivedEndpoints"`
}

type aboutViewModel struct {
	Description         string `json:"description"`
	Country             string `json:"country"`
	SubscriberCountText string `json:"subscriberCountText"`
	VideoCountText      string `json:"videoCountText"`
	ViewCountText       string `json:"viewCountText"`
	JoinedDateText      struct {
		Content string `json:"content"`
	} `json:"joinedDateText"`
	Links []struct {
		ChannelExternalLinkViewModel struct {
			Title struct {
				Content string `json:"content"`
			} `json:"title"`
			Link struct {
				Content string `json:"content"`
			} `json:"link"`
		} `json:"channelExternalLinkViewModel"`
	} `json:"links"`
}

func (c *ChannelInspector) about(ctx context.Context, meta *engine.ChannelMeta) error {
	page, err := fetchYouTubePage(ctx, c.cfg.AboutURL(meta.URL))
	if err != nil {
		return err
	}
	raw, err := embeddedJSON(page, ytInitialDataMarker)
	if err != nil {
		return err
	}
	var data ytAboutData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode ytInitialData: %w", err)
	}
	applyAbout(meta, data)
	return nil
}

func applyAbout(meta *engine.ChannelMeta, data ytAboutData) {
	md := data.Metadata.ChannelMetadataRenderer
	meta.Name = firstNonEmpty(meta.Name, md.Title)
	meta.ID = firstNonEmpty(meta.ID, md.ExternalID)
	meta.Description = md.Description
	meta.Keywords = md.Keywords

	for _, ep := range data.OnResponseReceivedEndpoints {
		sections := ep.ShowEngagementPanelEndpoint.EngagementPanel.EngagementPanelSectionListRenderer.Content.SectionListRenderer.Contents
		if len(sections) == 0 || len(sections[0].ItemSectionRenderer.Contents) == 0 {
			continue
		}
		vm := sections[0].ItemSectionRenderer.Contents[0].AboutChannelRenderer.Metadata.AboutChannelViewModel
		if vm == nil {
			continue
		}
		meta.Description = firstNonEmpty(vm.Description, meta.Description)
		meta.Country = vm.Country
		meta.Joined = vm.JoinedDateText.Content
		meta.Subscribers = vm.SubscriberCountText
		meta.VideoCount = vm.VideoCountText
		meta.ViewCount = vm.ViewCountText
		for _, l := range vm.Links {
			lvm := l.ChannelExternalLinkViewModel
			if lvm.Title.Content != "" || lvm.Link.Content != "" {
				meta.Links = append(meta.Links, engine.ChannelLink{Title: lvm.Title.Content, URL: lvm.Link.Content})
			}
		}
		return
	}
}

// recentTitles lists the newest uploads from the shorts tab, falling back to videos.
func (c *ChannelInspector) recentTitles(ctx context.Context, channelURL string) []string {
	for _, tab := range []string{"shorts", "videos"} {
		tabURL := strings.TrimRight(channelURL, "/") + "/" + tab
		out, err := c.cfg.Runner.Run(ctx, c.cfg.YTDLP, c.ytdlpArgs(
			"--dump-json", "--flat-playlist", "--no-cache-dir",
			"--playlist-end", strconv.Itoa(c.cfg.MaxRecent),
			tabURL,
		)...)
		if err != nil {
			c.log.Debug("recent uploads unavailable", slog.String("tab", tabURL), slog.Any("error", err))
			continue
		}
		if titles := parseFlatTitles(out, c.cfg.MaxRecent); len(titles) > 0 {
			return titles
		}
	}
	return nil
}

func parseFlatTitles(out []byte, limit int) []string {
	var titles []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() && len(titles) < limit {
		var entry struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(sc.Bytes(), &entry) == nil && entry.Title != "" {
			titles = append(titles, entry.Title)
		}
	}
	return titles
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
