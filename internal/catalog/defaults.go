package catalog

import "time"

// hotWindow is the ~8.3h recency window used by the normal CDC hot path,
// carried over from the 500-minute DELTA query window in the system this
// catalog was distilled from.
const hotWindow = 500 * time.Minute

// Default returns the built-in two-source catalog: a call-transcription
// source ("verint") and a chat-case source ("sf_oc"). Deployments with a
// different source mix should build their own Catalog with New instead of
// relying on this one; it exists to give the CDC loop and backfill engine a
// runnable default and to anchor the end-to-end scenarios in tests.
func Default() *Catalog {
	return New([]Entry{
		{
			SourceKey:          "verint",
			Table:              "CALL_TRANSCRIPTS",
			IDColumn:           "CALL_ID",
			TimeColumn:         "FRAGMENT_TIME",
			ValidChannels:      []string{"A", "C"},
			RequiredChannels:   []string{"A", "C"},
			MinSegments:        16,
			TimeFilterHot:      "FRAGMENT_TIME > :since",
			TimeFilterBulk:     "FRAGMENT_TIME > :windowStart",
			TimeFilterDelta:    "FRAGMENT_TIME > :since",
			HotWindow:          hotWindow,
			IndexHint:          "/*+ INDEX(CALL_TRANSCRIPTS CALL_TRANSCRIPTS_TIME_IDX) */",
			ModeKey:            "NORMAL_VERINT",
			DestinationTypeTag: "CALL",
			Enabled:            true,
		},
		{
			SourceKey:          "sf_oc",
			Table:              "CHAT_CASE_MESSAGES",
			IDColumn:           "CASE_ID",
			TimeColumn:         "MESSAGE_TIME",
			ValidChannels:      []string{"A", "B", "C"},
			RequiredChannels:   []string{"A", "C"},
			MinSegments:        5,
			TimeFilterHot:      "MESSAGE_TIME > :since",
			TimeFilterBulk:     "MESSAGE_TIME > :windowStart",
			TimeFilterDelta:    "MESSAGE_TIME > :since",
			HotWindow:          hotWindow,
			IndexHint:          "/*+ INDEX(CHAT_CASE_MESSAGES CHAT_CASE_TIME_IDX) */",
			ModeKey:            "NORMAL_SF_OC",
			DestinationTypeTag: "WAPP",
			Enabled:            true,
		},
	})
}
