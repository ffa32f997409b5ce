package circulation

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type NewBook struct {
	Title    string
	Author   string
	Quantity int
}

func (s *Service) AddBook(ctx context.Context, actor Actor, in NewBook) (model.Book, error) {
	if !actor.Staff() {
		return model.Book{}, ErrForbidden
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Book{}, InvalidInput("title is required")
	}
	if in.Quantity < 1 {
		return model.Book{}, InvalidInput("quantity must be at least 1")
	}

	now := s.now()
	book := model.Book{
		ID:        s.newID(),
		Title:     title,
		Author:    strings.TrimSpace(in.Author),
		Quantity:  in.Quantity,
		Available: in.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.inTx(ctx, "add_book", func(ctx context.Context, tx Tx) error {
		return tx.InsertBook(ctx, book)
	})
	if err != nil {
		return model.Book{}, err
	}
	s.logger.Info("book added", "book_id", book.ID, "quantity", book.Quantity)
	return book, nil
}

// SetQuantity changes the number of owned copies. Copies that are promised
// cannot be removed; added copies go to waiting readers first.
func (s *Service) SetQuantity(ctx context.Context, actor Actor, bookID string, quantity int) (model.Book, error) {
	if !actor.Staff() {
		return model.Book{}, ErrForbidden
	}
	if quantity < 0 {
		return model.Book{}, InvalidInput("quantity must not be negative")
	}

	var book model.Book
	err := s.inTx(ctx, "set_quantity", func(ctx context.Context, tx Tx) error {
		var err error
		book, err = tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		promised := book.Quantity - book.Available
		if quantity < promised {
			return InvalidInput(fmt.Sprintf("%d copies are promised or on loan, quantity cannot drop below that", promised))
		}

		delta := quantity - book.Quantity
		book.Quantity = quantity
		if delta <= 0 {
			book.Available += delta
			book.UpdatedAt = s.now()
			return tx.UpdateBook(ctx, book)
		}
		for i := 0; i < delta; i++ {
			if _, err := s.releaseCopy(ctx, tx, &book); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Book{}, err
	}
	return book, nil
}

func (s *Service) GetBook(ctx context.Context, bookID string) (model.Book, error) {
	var book model.Book
	err := s.inTx(ctx, "get_book", func(ctx context.Context, tx Tx) error {
		var err error
		book, err = tx.GetBook(ctx, bookID)
		return err
	})
	return book, err
}

func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	var books []model.Book
	err := s.inTx(ctx, "list_books", func(ctx context.Context, tx Tx) error {
		var err error
		books, err = tx.ListBooks(ctx)
		return err
	})
	return books, err
}

// Queue lists the open reservations for a book in pickup order.
func (s *Service) Queue(ctx context.Context, bookID string) ([]model.Reservation, error) {
	var q []model.Reservation
	err := s.inTx(ctx, "queue", func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		var err error
		q, err = queue(ctx, tx, bookID)
		return err
	})
	return q, err
}
