package domain

// Post is a single record of the remote posts listing. ID is unique within a
// fetched batch; the server guarantees it, nothing here enforces it.
type Post struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}
