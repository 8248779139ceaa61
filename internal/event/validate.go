package event

import "github.com/go-playground/validator/v10"

// Shared validator instance; payload structs carry their own tags.
var validate = validator.New()
