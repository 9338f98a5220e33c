package service_test

import (
	"testing"

	"github.com/begoneskadedjur/kundportal-sub013/service"
	"github.com/begoneskadedjur/kundportal-sub013/storage/storagetest"
)

func TestMemoryStoreRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Repo {
		return service.NewMemoryStore(0)
	})
}
