package service

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Book is stored as-is in the book index. ID doubles as the document _id.
// Empty fields are omitted so a partial update only touches what the caller sent.
type Book struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Author      string   `json:"author,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
	PublishDate string   `json:"publish_date,omitempty"`
}

// ErrBookNotFound is returned by DecodeBook when the get response says found=false.
var ErrBookNotFound = errors.New("book not found")

// DecodeBook extracts _source of a get-by-id response body.
func DecodeBook(body []byte) (*Book, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("decode book: invalid json")
	}
	if found := gjson.GetBytes(body, "found"); found.Exists() && !found.Bool() {
		return nil, ErrBookNotFound
	}
	src := gjson.GetBytes(body, "_source")
	if !src.Exists() {
		return nil, errors.New("decode book: no _source in response")
	}
	var b Book
	if err := json.Unmarshal([]byte(src.Raw), &b); err != nil {
		return nil, errors.Wrap(err, "decode book")
	}
	return &b, nil
}
