package mail

import "time"

// SearchStrategy finds candidate messages in an open folder. The receiver
// delegates the "what counts as new" decision here so that protocol- or
// deployment-specific criteria stay out of the receive/fetch/delete
// sequence.
type SearchStrategy interface {
	Search(folder Folder) ([]uint32, error)
}

// SearchUnseen matches messages that do not carry the seen flag. On
// stores without persistent flag state (POP3) it matches everything,
// which is also why such protocols default to delete-after-receipt.
type SearchUnseen struct{}

func (SearchUnseen) Search(folder Folder) ([]uint32, error) {
	return folder.Search(&SearchCriteria{Unseen: true})
}

// SearchAll matches every message in the folder.
type SearchAll struct{}

func (SearchAll) Search(folder Folder) ([]uint32, error) {
	return folder.Search(&SearchCriteria{})
}

// SearchSince matches messages received at or after the given time.
type SearchSince struct {
	Since time.Time
}

func (s SearchSince) Search(folder Folder) ([]uint32, error) {
	return folder.Search(&SearchCriteria{Since: s.Since})
}

// SearchFunc adapts a plain function to a SearchStrategy.
type SearchFunc func(folder Folder) ([]uint32, error)

func (f SearchFunc) Search(folder Folder) ([]uint32, error) { return f(folder) }
