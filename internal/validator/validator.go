package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/psds-microservice/book-service/internal/service"
)

// ErrValidation is wrapped by every error this package returns.
var ErrValidation = errors.New("validation")

const (
	maxIDLength   = 512
	maxMatchSize  = 100
	maxMatchFrom  = 10000
	maxNameLength = 1024
)

// поля, по которым разрешён match-запрос
var matchFields = map[string]bool{
	"name":        true,
	"author":      true,
	"description": true,
}

var fieldNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_.]*$`)

// Validator validates input DTOs for book-service
type Validator struct {
	maxBatchSize int
}

// New creates a validator. maxBatchSize <= 0 leaves batch size unbounded.
func New(maxBatchSize int) *Validator {
	return &Validator{maxBatchSize: maxBatchSize}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateID checks a document identifier. It is used verbatim as the _id, so only emptiness,
// length and the reserved "." / ".." values are rejected.
func (v *Validator) ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id is required")
	}
	if len(id) > maxIDLength {
		return invalid("id must not exceed %d bytes", maxIDLength)
	}
	if id == "." || id == ".." {
		return invalid("id must not be %q", id)
	}
	return nil
}

// ValidateBook validates a book to be indexed under its own ID.
func (v *Validator) ValidateBook(b *service.Book) error {
	if b == nil {
		return invalid("book is required")
	}
	if err := v.ValidateID(b.ID); err != nil {
		return err
	}
	if b.Price != nil && *b.Price < 0 {
		return invalid("price must be non-negative")
	}
	return nil
}

// ValidateUpdate validates a partial document for id. The body ID, when set, must match the path.
func (v *Validator) ValidateUpdate(id string, b *service.Book) error {
	if err := v.ValidateID(id); err != nil {
		return err
	}
	if b == nil {
		return invalid("book is required")
	}
	if b.ID != "" && b.ID != id {
		return invalid("body id %q does not match path id %q", b.ID, id)
	}
	if b.Price != nil && *b.Price < 0 {
		return invalid("price must be non-negative")
	}
	return nil
}

// ValidateBatch validates every book of a batch write.
func (v *Validator) ValidateBatch(books []service.Book) error {
	if len(books) == 0 {
		return invalid("batch must not be empty")
	}
	if v.maxBatchSize > 0 && len(books) > v.maxBatchSize {
		return invalid("batch must not exceed %d books", v.maxBatchSize)
	}
	var errs []string
	for i := range books {
		if err := v.ValidateBook(&books[i]); err != nil {
			errs = append(errs, fmt.Sprintf("[%d] %s", i, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")))
		}
	}
	if len(errs) > 0 {
		return invalid("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateName validates the new name of a script update.
func (v *Validator) ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name is required")
	}
	if len(name) > maxNameLength {
		return invalid("name must not exceed %d bytes", maxNameLength)
	}
	return nil
}

// ValidateMatchQuery validates match query parameters
func (v *Validator) ValidateMatchQuery(field, text string, from, size int) error {
	var errs []string
	if field != "" && (!fieldNameRe.MatchString(field) || !matchFields[field]) {
		errs = append(errs, "field must be one of: name, author, description")
	}
	if strings.TrimSpace(text) == "" {
		errs = append(errs, "text is required")
	}
	if from < 0 || from > maxMatchFrom {
		errs = append(errs, fmt.Sprintf("from must be between 0 and %d", maxMatchFrom))
	}
	if size < 1 || size > maxMatchSize {
		errs = append(errs, fmt.Sprintf("size must be between 1 and %d", maxMatchSize))
	}
	if len(errs) > 0 {
		return invalid("%s", strings.Join(errs, "; "))
	}
	return nil
}
