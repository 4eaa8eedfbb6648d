// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	cfg, err := s3.LoadAWSConfig(ctx, "us-east-1")
//	if err != nil {
//	    return err
//	}
//	store := s3.NewStoreFromConfig(cfg, "my-bucket", "sensei/")
//
// DDBCommitStore wraps a Store and routes writes of the CURRENT pointer through
// a DynamoDB conditional put so concurrent writers cannot lose a commit.
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads with CRC32C checksums for large buckets
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
