// Package moderation provides spam classification and the moderation
// workflow. Inbound messages are scored by a weighted detector catalogue
// plus a per-sender repetition tracker; verdicts and user reports are turned
// into moderation records through a narrow Store contract.
package moderation
