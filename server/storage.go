package server

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/hothotzd123/sensei/blobstore"
	miniostore "github.com/hothotzd123/sensei/blobstore/minio"
	s3store "github.com/hothotzd123/sensei/blobstore/s3"
	"github.com/hothotzd123/sensei/config"
	"github.com/hothotzd123/sensei/factory"
)

// storageOptions selects the segment store of rolling engines. The local
// backend leaves the factory on its directory.
func storageOptions(ctx context.Context, cfg config.StorageConfig) ([]factory.Option, error) {
	switch cfg.Backend {
	case "memory":
		return []factory.Option{factory.WithStore(blobstore.NewMemoryStore())}, nil

	case "minio":
		st, err := miniostore.Dial(ctx, miniostore.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("server: dial minio %s: %w", cfg.Endpoint, err)
		}
		return []factory.Option{factory.WithStore(st)}, nil

	case "s3":
		awsCfg, err := s3store.LoadAWSConfig(ctx, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("server: load aws config: %w", err)
		}
		st := s3store.NewStoreFromConfig(awsCfg, cfg.Bucket, cfg.Prefix, cfg.Endpoint)
		if cfg.DynamoDBTable == "" {
			return []factory.Option{factory.WithStore(st)}, nil
		}
		commits := s3store.NewDDBCommitStore(st, dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, "")
		return []factory.Option{factory.WithStoreFunc(commitStoreFunc(st, commits, cfg.Bucket, cfg.Prefix))}, nil
	}
	return nil, nil
}

// commitStoreFunc roots each location under its own prefix and commits its
// CURRENT pointer through DynamoDB, keyed by the location URI.
func commitStoreFunc(st blobstore.Store, commits *s3store.DDBCommitStore, bucket, prefix string) factory.StoreFunc {
	return func(loc string) (blobstore.Store, error) {
		uri := fmt.Sprintf("s3://%s/%s", bucket, path.Join(prefix, loc))
		return commits.WithBaseURI(blobstore.NewPrefixStore(st, loc), uri), nil
	}
}
