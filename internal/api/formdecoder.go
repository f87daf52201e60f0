package api

import (
	"fmt"

	"github.com/go-playground/form/v4"
	"github.com/google/uuid"
)

func newFormDecoder() *form.Decoder {
	decoder := form.NewDecoder()
	decoder.RegisterCustomTypeFunc(func(s []string) (interface{}, error) {
		if len(s) == 0 || s[0] == "" {
			return uuid.Nil, nil
		}
		id, err := uuid.Parse(s[0])
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		return id, nil
	}, uuid.UUID{})

	return decoder
}
