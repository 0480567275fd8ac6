package campaign

// DeriveStatus computes the externally reported status of a campaign from
// its stored status and message counts. A stored failure always wins.
func DeriveStatus(id, stored string, st Stats) CampaignStatus {
	out := CampaignStatus{
		CampaignID: id,
		Sent:       st.Sent,
		Failed:     st.Failed,
		Total:      st.Total,
	}
	if st.Total > 0 {
		out.Progress = float64(st.Sent+st.Failed) / float64(st.Total) * 100
	}

	switch {
	case stored == StatusFailed:
		out.Status = StatusFailed
	case st.Total > 0 && st.Pending == 0:
		out.Status = StatusCompleted
		out.Progress = 100
	case st.Sent+st.Failed > 0:
		out.Status = StatusRunning
	default:
		out.Status = StatusPending
	}
	return out
}
