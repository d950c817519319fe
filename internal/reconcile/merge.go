package reconcile

import "github.com/matheus3301/wppsync/internal/model"

// mergeReceipt replaces the entry of the receipt's user, moving it to the
// end, or appends it when the user has none.
func mergeReceipt(receipts []model.UserReceipt, r model.UserReceipt) []model.UserReceipt {
	out := make([]model.UserReceipt, 0, len(receipts)+1)
	for _, existing := range receipts {
		if existing.UserJID != r.UserJID {
			out = append(out, existing)
		}
	}
	return append(out, r)
}

// mergeReaction drops the author's previous reaction and appends r unless
// its text is empty.
func mergeReaction(reactions []model.Reaction, r model.Reaction) []model.Reaction {
	author := keyAuthor(r.Key)
	out := make([]model.Reaction, 0, len(reactions)+1)
	for _, existing := range reactions {
		if keyAuthor(existing.Key) != author {
			out = append(out, existing)
		}
	}
	if r.Text != "" {
		out = append(out, r)
	}
	return out
}

func keyAuthor(key *model.MessageKey) string {
	switch {
	case key == nil:
		return ""
	case key.FromMe:
		return "me"
	case key.Participant != "":
		return key.Participant
	}
	return key.RemoteJID
}
