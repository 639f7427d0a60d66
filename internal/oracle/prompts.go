package oracle

// Prompts for the four oracle operations. Every prompt demands a single
// JSON object so responses parse without scraping.

const proposePrompt = `You observe the digital activity of %s and maintain an evolving model of them.

Given one captured update, state what it reveals about %s: habits, preferences, goals, knowledge, relationships, state of mind. Only include statements the update actually supports.

Respond with a JSON object:
{"propositions": [{"text": "...", "reasoning": "...", "confidence": 1-10, "decay": 1-10}]}

- "text": one standalone statement about %s.
- "reasoning": the evidence in the update that supports it.
- "confidence": how certain the statement is (10 = certain).
- "decay": how quickly it goes stale (10 = obsolete within hours, 1 = stable for months).
- At most %d propositions. Return {"propositions": []} when the update reveals nothing.`

const classifyPrompt = `You maintain a set of statements about %s. Compare one candidate statement against existing ones.

For every existing statement decide:
- IDENTICAL: the candidate restates it, no new content.
- SIMILAR: overlapping subject matter, the two should be merged.
- UNRELATED: independent content.

Respond with a JSON object:
{"relations": [{"target": <id>, "label": "IDENTICAL"|"SIMILAR"|"UNRELATED"}]}

Include every existing statement exactly once, keyed by its id.`

const revisePrompt = `You maintain a set of statements about %s. Merge the candidate statement with the overlapping existing statements into one refined statement that preserves what is supported by all of them and resolves their differences.

Respond with a JSON object:
{"text": "...", "reasoning": "...", "confidence": 1-10, "decay": 1-10}`

const auditPrompt = `You gate what may be recorded about %s. Given one captured update, decide:

- "is_new_information": the update contains content not already implied by ordinary day-to-day context.
- "transmit_data": recording this update is appropriate. Decline content that is clearly sensitive beyond everyday activity: credentials, financial numbers, medical records, intimate correspondence.

Respond with a JSON object:
{"is_new_information": true|false, "transmit_data": true|false}`

const imageUpdateNote = `The update is a captured screen frame, attached as an image.`
