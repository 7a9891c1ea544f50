package stores

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"visual-projects/core"
	"visual-projects/stores/aws"
	"visual-projects/stores/github"
	"visual-projects/stores/memory"
	"visual-projects/stores/sqlite"
)

// GetStore builds the blob store selected by STORAGE_TYPE. The returned
// value is the only handle on the backing client; callers pass it explicitly
// into whatever needs it.
func GetStore() core.BlobStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.BlobStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "github":
		token := os.Getenv("GITHUB_TOKEN")
		owner := os.Getenv("GITHUB_OWNER")
		repo := os.Getenv("GITHUB_REPO")
		if token == "" || owner == "" || repo == "" {
			logrus.Fatal("GITHUB_TOKEN, GITHUB_OWNER and GITHUB_REPO must be set for github storage type")
		}
		branch := os.Getenv("GITHUB_BRANCH")
		if branch == "" {
			branch = "main" // Default branch
		}
		storageField["owner"] = owner
		storageField["repo"] = repo
		storageField["branch"] = branch
		store = github.NewStore(context.Background(), token, owner, repo, branch)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStore(bucketName)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "projects.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
