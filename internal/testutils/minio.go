//go:build integration

package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Minio and the mc bucket-setup container need a shared network.
	networkName := fmt.Sprintf("parfetch-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucketWithMC(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucketName,
		endpoint,
	)

	// gocloud's s3blob opener reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		BucketURL: bucketURL,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketWithMC creates a bucket using a separate minio/mc container.
func createBucketWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	// mc container runs, creates the bucket, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{
			fmt.Sprintf(
				"/usr/bin/mc config host add myminio http://minio:9000 %s %s && "+
					"/usr/bin/mc mb myminio/%s && "+
					"/usr/bin/mc policy set download myminio/%s; "+
					"exit 0",
				accessKey, secretKey, bucketName, bucketName,
			),
		},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}
