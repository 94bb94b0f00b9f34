package model

import "errors"

// Shared sentinel errors returned by every storage backend.
var (
	ErrJobNotFound          = errors.New("job not found")
	ErrJobStateConflict     = errors.New("job is not in the expected state")
	ErrRecordExists         = errors.New("record already exists")
	ErrDeliveryNotFound     = errors.New("delivery not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrActivityNotFound     = errors.New("activity not found")
	ErrActivityExists       = errors.New("activity already exists")
)
