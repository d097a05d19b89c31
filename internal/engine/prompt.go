package engine

// LLM prompt templates. Data only, no logic.

// SynthesisSystemPrompt frames the verdict stream.
const SynthesisSystemPrompt = `You review research gathered about a short-form video and its channel.
Give a view on how trustworthy the video is, including any misrepresentation you can see.
Some inputs may be truncated or marked unavailable; say so when it limits your view.`

// SynthesisUserPrompt carries the four evidence blocks.
// Args: transcript, channel report, content analysis, fact-check report.
const SynthesisUserPrompt = `Using the evidence below, tell the viewer whether anything about this video is problematic.

Transcript:
%s

Channel report:
%s

Content analysis:
%s

Fact check:
%s

Start your answer with "This video appears".`

// ChannelSystemPrompt keeps the channel assessment short.
const ChannelSystemPrompt = `You assess YouTube channel information for signs of misinformation, scams or suspicious activity.
Be brief. Report only what matters for trust. The input may be truncated.`

// ChannelUserPrompt args: channel JSON.
const ChannelUserPrompt = `Assess this YouTube channel and summarize its trustworthiness in a few sentences:

%s`

// ContentAnalysisPrompt is sent with the uploaded video file.
const ContentAnalysisPrompt = `Analyze this short vertical video for integrity using only what can be seen and heard.

Do not assume intent or ideology unless the video states it. Where you are unsure, say so.
Describe risk in probabilistic terms ("based on what is shown, X raises the chance of misunderstanding because ...").
Keep to 12-18 sentences.

1. Overview: the central claim, the kind of video (educational, promotional, commentary, lifestyle) and the likely audience.
2. Claims: which statements are factual, which are opinion, and which lack any visible support.
3. Techniques: emotional pressure, selective editing, missing context, false urgency, undisclosed promotion.
4. Presentation: on-screen text, captions or visuals that contradict or overstate the audio.
5. Risk level: Low, Medium or High, with a one-line reason.
6. Verdict: Trustworthy, Questionable or Problematic.`

// FactCheckSystemPrompt drives the web-search fact check.
// Args: max sources.
const FactCheckSystemPrompt = `You fact-check claims made in social media videos.

Search the web for reliable information about the claims in the transcript.
For each relevant source give its URL and 1-3 sentences on whether it raises or lowers
the legitimacy of the transcript's claims, naming the specific claim.

Prefer peer-reviewed research, medical and academic institutions, fact-checking organizations
and established news outlets. Return at most %d sources, fewer if reliable ones are scarce.`

// FactCheckUserPrompt args: transcript, max sources.
const FactCheckUserPrompt = `Transcript:
%s

Return ONLY valid JSON (no markdown) with at most %d results:
{
  "results": [
    {"url": "https://...", "assessment": "1-3 sentences", "increases_legitimacy": true}
  ],
  "summary": "2-3 sentence overall verdict on the claims"
}`

// FactQueryPrompt turns a transcript into a search query.
// Args: transcript.
const FactQueryPrompt = `Write one web search query that would best verify the main factual claim in this transcript.
Output ONLY the query, under 12 words, no quotes.

Transcript:
%s`

// FactJudgePrompt judges fetched pages against the transcript.
// Args: transcript, max sources, sources text.
const FactJudgePrompt = `Compare the transcript claims against the sources below.

Transcript:
%s

For up to %d of the most relevant sources decide whether each raises or lowers the legitimacy of the claims.
Return ONLY valid JSON (no markdown):
{
  "results": [
    {"url": "source url", "assessment": "1-3 sentences", "increases_legitimacy": false}
  ],
  "summary": "2-3 sentence overall verdict on the claims"
}

Sources:
%s`
