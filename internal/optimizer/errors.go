package optimizer

import "fmt"

// DecodeError indicates the input bytes could not be parsed as an image.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError indicates re-encoding to the target format failed.
type EncodeError struct {
	Key         string
	ContentType string
	Err         error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s as %s: %v", e.Key, e.ContentType, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
