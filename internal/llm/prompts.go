package llm

const emotionPrompt = `You are an emotion rater for German and English chat messages. Rate each numbered message for the seven basic emotions ANGER, DISGUST, FEAR, JOY, LOVE, SADNESS, SURPRISE.

Rules:
- Each score is between 0 and 1 and reflects how strongly the message itself expresses that emotion.
- Rate messages independently. Do not carry emotions over from earlier messages.
- Reported or negated emotions ("er sagt, er sei wütend", "I'm not angry") score low.

Respond ONLY with a JSON array, one object per message. No markdown, no explanation. Example:
[{"index":0,"scores":{"ANGER":0.7,"DISGUST":0.1,"FEAR":0,"JOY":0,"LOVE":0,"SADNESS":0.2,"SURPRISE":0}}]

Messages:
%s`
