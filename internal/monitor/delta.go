package monitor

import "sort"

// computeDelta returns the UIDs that still need processing, in ascending
// order. With a known watermark that is every UID strictly above it. With no
// watermark the mailbox history is deliberately skipped: only the newest UID
// is returned, so a freshly onboarded tenant starts from "now" instead of
// replaying years of mail.
func computeDelta(watermark *int64, uids []int64) []int64 {
	if len(uids) == 0 {
		return nil
	}

	if watermark == nil {
		max := uids[0]
		for _, uid := range uids[1:] {
			if uid > max {
				max = uid
			}
		}
		return []int64{max}
	}

	delta := make([]int64, 0)
	for _, uid := range uids {
		if uid > *watermark {
			delta = append(delta, uid)
		}
	}
	sort.Slice(delta, func(i, j int) bool { return delta[i] < delta[j] })
	return delta
}
