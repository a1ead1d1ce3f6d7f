package cache

import "errors"

// ErrUnknownCategory indicates a put or TTL lookup for a category with no configured TTL
var ErrUnknownCategory = errors.New("unknown cache category")

// ErrInvalidTTL indicates a non-positive TTL or max age
var ErrInvalidTTL = errors.New("invalid cache ttl")
