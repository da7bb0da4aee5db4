// Package gemini adapts Google's Gemini models for the two model-backed
// stages: multimodal body-composition estimates from the scan photos, and
// short insight narratives.
//
// Photos are read through photostore so gs:// and file:// references work the
// same way. Errors carry services markers: quota and availability failures are
// transient, blocked or unparsable responses are validation errors.
package gemini
