// Command securestore exercises the encrypted persistence pipeline from the
// shell: store a payload file, recover the latest one, list the history.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cyra-app/securestore"
	"github.com/cyra-app/securestore/internal/config"
	"github.com/cyra-app/securestore/internal/identity"
	"github.com/cyra-app/securestore/internal/kvcache"
	"github.com/cyra-app/securestore/pkg/blobstore"
	"github.com/cyra-app/securestore/pkg/metastore"
	"github.com/cyra-app/securestore/pkg/payload"
)

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	userID := os.Args[1]
	command := os.Args[2]

	conf, err := config.Load("securestore.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %s", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(conf.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	provider := identity.Static{UserID: userID}
	if !provider.Ready() {
		log.Fatal("No user id given")
	}

	blobs := blobstore.NewClient(blobstore.Config{
		JWT:           conf.Blobstore.JWT,
		Endpoint:      conf.Blobstore.Endpoint,
		Gateway:       conf.Blobstore.Gateway,
		PublicGateway: conf.Blobstore.PublicGateway,
		Logger:        logger,
	})

	var meta securestore.MetadataStore
	var metaStore *metastore.Store
	if conf.Metastore.DSN != "" {
		metaStore, err = metastore.New(metastore.Config{DSN: conf.Metastore.DSN, Logger: logger})
		if err != nil {
			log.Fatalf("Failed to open metadata store: %s", err)
		}
		defer metaStore.Close()
		if err := metaStore.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate metadata schema: %s", err)
		}
		meta = metaStore
	}

	cache, err := kvcache.NewCache(kvcache.StoreConfig{
		Path:             conf.Cache.Path,
		MinimumFreeSpace: conf.Cache.MinimumFreeGB,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("Failed to open local cache: %s", err)
	}
	defer cache.Close()

	store, err := securestore.New(securestore.Config{
		Blobs:  blobs,
		Meta:   meta,
		Cache:  cache,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize securestore: %s", err)
	}
	defer store.Close()

	ctx := context.Background()
	externalID, _ := provider.CurrentUserID()

	switch command {
	case "store":
		if len(os.Args) < 4 {
			usage()
		}
		runStore(ctx, store, externalID, os.Args[3])
	case "recover":
		runRecover(ctx, store, externalID)
	case "history":
		runHistory(ctx, store, externalID)
	default:
		usage()
	}
}

func runStore(ctx context.Context, store *securestore.SecureStore, userID, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read payload file: %s", err)
	}
	p, err := payload.Decode(data)
	if err != nil {
		log.Fatalf("Payload file is not valid: %s", err)
	}

	result, err := store.Store(ctx, userID, p)
	if err != nil {
		log.Fatalf("Store failed: %s", err)
	}

	fmt.Printf("Stored: cid=%s size=%d version=%d\n", result.CID, result.Size, result.Version)
	if result.MetadataPending {
		fmt.Printf("Warning: metadata write pending: %v\n", result.MetadataErr)
	}
}

func runRecover(ctx context.Context, store *securestore.SecureStore, userID string) {
	recovered, err := store.Recover(ctx, userID)
	if err != nil {
		log.Fatalf("Recover failed: %s", err)
	}
	if recovered == nil {
		fmt.Println("No stored data for this user")
		return
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"userData": recovered.Payload.Record,
		"aiPrompt": recovered.Payload.Annotation,
	}, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render payload: %s", err)
	}

	fmt.Printf("Recovered version %d from %s:\n%s\n", recovered.Version, recovered.CID, out)
}

func runHistory(ctx context.Context, store *securestore.SecureStore, userID string) {
	versions, err := store.History(ctx, userID)
	if err != nil {
		log.Fatalf("History failed: %s", err)
	}
	if len(versions) == 0 {
		fmt.Println("No versions stored for this user")
		return
	}
	for _, v := range versions {
		fmt.Printf("version=%d cid=%s created=%s\n", v.Version, v.CID, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: securestore <user-id> store <payload.json> | recover | history")
	os.Exit(2)
}
