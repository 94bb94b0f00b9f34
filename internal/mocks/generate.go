// Package mocks provides gomock implementations of the core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/listing-relay/internal/core JobRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=delivery_repository_mock.go github.com/target/listing-relay/internal/core DeliveryRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=subscription_registry_mock.go github.com/target/listing-relay/internal/core SubscriptionRegistry
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=scraper_adapter_mock.go github.com/target/listing-relay/internal/core ScraperAdapter
