package store

// Extra-data keys written by the service itself. A re-ingestion merge must
// never silently drop them, no matter what the source payload carries.
const (
	ExtraLastReplyText   = "last_reply_text"
	ExtraLastReplySource = "last_reply_source"
	ExtraReplySentAt     = "reply_sent_at"
	ExtraLinkCandidates  = "link_candidates"
	ExtraSandboxPreview  = "sandbox_preview"
)

// PreservedExtraKeys is the fixed set of extra_data keys that survive any
// re-ingestion merge.
var PreservedExtraKeys = []string{
	ExtraLastReplyText,
	ExtraLastReplySource,
	ExtraReplySentAt,
	ExtraLinkCandidates,
	ExtraSandboxPreview,
}

// MergeExtraData merges the incoming extra_data over the previous one.
// Incoming keys win, except the preserved set: a preserved key present in
// prev is carried over whenever next omits it. This is the single place the
// preservation invariant is enforced.
func MergeExtraData(prev, next map[string]any) map[string]any {
	merged := make(map[string]any, len(next)+len(PreservedExtraKeys))
	for k, v := range next {
		merged[k] = v
	}
	for _, k := range PreservedExtraKeys {
		if _, incoming := merged[k]; incoming {
			continue
		}
		if v, ok := prev[k]; ok {
			merged[k] = v
		}
	}
	return merged
}
