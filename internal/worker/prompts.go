package worker

// System and user prompts for the analysis sub-tasks. All tasks request a
// single JSON object so the router's structured parsing applies uniformly.

const productDetectionSystemPrompt = `You are a fashion product analyst. ` +
	`Identify every distinct product visible or mentioned. Respond with a JSON object: ` +
	`{"products": [{"name": string, "category": string, "description": string, ` +
	`"attributes": {"color": string, "fabric": string, "texture": string, "neckline": string, ` +
	`"sleeve_length": string, "body_length": string, "fit": string, "closures": string, "pattern": string}, ` +
	`"confidence": {attribute: number between 0 and 1}}]}`

const visionSummarySystemPrompt = `You summarize short-form video frames for a shopping audience. ` +
	`Respond with a JSON object: {"summary": string}`

const seoSynthesisSystemPrompt = `You write storefront copy from video analysis. ` +
	`Respond with a JSON object: {"title": string, "description": string, "tags": [string]}`

const sentimentSystemPrompt = `You classify creator sentiment toward the featured products. ` +
	`Respond with a JSON object: {"sentiment": "positive"|"neutral"|"negative", "keywords": [string]}`
