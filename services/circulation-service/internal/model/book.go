package model

import "time"

type BookStatus string

const (
	BookAvailable BookStatus = "Available"
	BookBorrowed  BookStatus = "Borrowed"
)

type Book struct {
	ID           string
	Title        string
	Author       string
	Quantity     int
	Available    int
	TotalBorrows int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Status is derived from the counters and never stored on its own.
func (b Book) Status() BookStatus {
	if b.Available > 0 {
		return BookAvailable
	}
	return BookBorrowed
}

type User struct {
	ID            string
	BooksOut      int
	BorrowedBooks []string
	History       []string
}

func (u User) HasBorrowed(bookID string) bool {
	for _, id := range u.BorrowedBooks {
		if id == bookID {
			return true
		}
	}
	return false
}

// CheckOut records bookID in the active set.
func (u *User) CheckOut(bookID string) {
	if u.HasBorrowed(bookID) {
		return
	}
	u.BorrowedBooks = append(u.BorrowedBooks, bookID)
	u.BooksOut = len(u.BorrowedBooks)
}

// CheckIn moves bookID from the active set to the history list.
func (u *User) CheckIn(bookID string) {
	kept := make([]string, 0, len(u.BorrowedBooks))
	for _, id := range u.BorrowedBooks {
		if id != bookID {
			kept = append(kept, id)
		}
	}
	u.BorrowedBooks = kept
	u.BooksOut = len(kept)
	u.History = append(u.History, bookID)
}
