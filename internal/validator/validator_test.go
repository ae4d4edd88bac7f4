package validator

import (
	"strings"
	"testing"

	"github.com/psds-microservice/book-service/internal/service"
	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	v := New(0)
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "plain", id: "1"},
		{name: "uuid-like", id: "3f2c9a10-1b2c-4d5e-8f90-a1b2c3d4e5f6"},
		{name: "with slash", id: "a/b"},
		{name: "empty", id: "", wantErr: true},
		{name: "blank", id: "   ", wantErr: true},
		{name: "dot", id: ".", wantErr: true},
		{name: "too long", id: strings.Repeat("x", maxIDLength+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBook(t *testing.T) {
	v := New(0)
	neg := -1.0

	assert.NoError(t, v.ValidateBook(&service.Book{ID: "1", Name: "x"}))
	assert.ErrorIs(t, v.ValidateBook(nil), ErrValidation)
	assert.ErrorIs(t, v.ValidateBook(&service.Book{Name: "no id"}), ErrValidation)
	assert.ErrorIs(t, v.ValidateBook(&service.Book{ID: "1", Price: &neg}), ErrValidation)
}

func TestValidateUpdate(t *testing.T) {
	v := New(0)

	assert.NoError(t, v.ValidateUpdate("1", &service.Book{Name: "x"}))
	assert.NoError(t, v.ValidateUpdate("1", &service.Book{ID: "1"}))
	assert.ErrorIs(t, v.ValidateUpdate("1", &service.Book{ID: "2"}), ErrValidation)
	assert.ErrorIs(t, v.ValidateUpdate("", &service.Book{}), ErrValidation)
}

func TestValidateBatch(t *testing.T) {
	v := New(2)

	assert.NoError(t, v.ValidateBatch([]service.Book{{ID: "1"}, {ID: "2"}}))
	assert.ErrorIs(t, v.ValidateBatch(nil), ErrValidation)
	assert.ErrorIs(t, v.ValidateBatch([]service.Book{{ID: "1"}, {ID: "2"}, {ID: "3"}}), ErrValidation)

	err := v.ValidateBatch([]service.Book{{ID: "1"}, {}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "[1] id is required")
}

func TestValidateBatch_Unbounded(t *testing.T) {
	books := make([]service.Book, 500)
	for i := range books {
		books[i].ID = strings.Repeat("x", i%10+1)
	}
	assert.NoError(t, New(0).ValidateBatch(books))
}

func TestValidateName(t *testing.T) {
	v := New(0)

	assert.NoError(t, v.ValidateName("War and Peace"))
	assert.ErrorIs(t, v.ValidateName(" "), ErrValidation)
}

func TestValidateMatchQuery(t *testing.T) {
	v := New(0)

	assert.NoError(t, v.ValidateMatchQuery("", "fire", 0, 2))
	assert.NoError(t, v.ValidateMatchQuery("author", "tolkien", 10, 100))
	assert.ErrorIs(t, v.ValidateMatchQuery("price", "x", 0, 2), ErrValidation)
	assert.ErrorIs(t, v.ValidateMatchQuery("name", "", 0, 2), ErrValidation)
	assert.ErrorIs(t, v.ValidateMatchQuery("name", "x", -1, 2), ErrValidation)
	assert.ErrorIs(t, v.ValidateMatchQuery("name", "x", 0, 101), ErrValidation)
	assert.ErrorIs(t, v.ValidateMatchQuery("name", "x", 0, 0), ErrValidation)
}
