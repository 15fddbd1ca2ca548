package auditstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  Config{Driver: DriverMemory},
		},
		{
			name:    "unsupported driver",
			cfg:     Config{Driver: "gcs"},
			wantErr: true,
		},
		{
			name:    "s3 missing bucket",
			cfg:     Config{Driver: DriverS3, S3Client: &fakeS3Client{}},
			wantErr: true,
		},
		{
			name:    "s3 missing client",
			cfg:     Config{Driver: DriverS3, Bucket: "bridge-audit"},
			wantErr: true,
		},
		{
			name: "default driver is s3",
			cfg:  Config{Bucket: "bridge-audit", S3Client: &fakeS3Client{}},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if store == nil {
				t.Fatalf("New returned nil store")
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory, Prefix: "bridge-1/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	payload := []byte(`{"seq":0,"amount":"500"}`)
	if err := store.Put(ctx, "/deposits/0xabc.json", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := store.Exists(ctx, "deposits/0xabc.json")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}

	snap, err := store.Get(ctx, "deposits/0xabc.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(snap.Data, payload) {
		t.Fatalf("payload mismatch: got %q want %q", snap.Data, payload)
	}

	// The returned slice is a defensive copy.
	snap.Data[0] = 'X'
	reload, err := store.Get(ctx, "deposits/0xabc.json")
	if err != nil {
		t.Fatalf("Get reload: %v", err)
	}
	if reload.Data[0] != '{' {
		t.Fatalf("stored payload mutated")
	}

	if _, err := store.Get(ctx, "deposits/0xmissing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: got %v", err)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, key := range []string{"", "   ", "\x00bad", "\nnewline"} {
		key := key
		t.Run(strings.ReplaceAll(key, "\x00", "nul"), func(t *testing.T) {
			t.Parallel()
			if err := store.Put(context.Background(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("Put(%q): expected ErrInvalidKey, got %v", key, err)
			}
		})
	}
}

func TestS3StorePutGetExists(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{}
	store, err := New(Config{
		Driver:     DriverS3,
		Bucket:     "bridge-audit",
		Prefix:     "mainnet",
		MaxGetSize: 4 << 10,
		S3Client:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	client.putFn = func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		if got, want := aws.ToString(in.Bucket), "bridge-audit"; got != want {
			t.Fatalf("bucket mismatch: got %q want %q", got, want)
		}
		if got, want := aws.ToString(in.Key), "mainnet/withdrawals/0xdef.json"; got != want {
			t.Fatalf("key mismatch: got %q want %q", got, want)
		}
		if got, want := aws.ToString(in.ContentType), "application/json"; got != want {
			t.Fatalf("content type mismatch: got %q want %q", got, want)
		}
		return &s3.PutObjectOutput{}, nil
	}
	client.getFn = func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		if got, want := aws.ToString(in.Key), "mainnet/withdrawals/0xdef.json"; got != want {
			t.Fatalf("get key mismatch: got %q want %q", got, want)
		}
		return &s3.GetObjectOutput{
			Body: io.NopCloser(strings.NewReader(`{"nonce":1}`)),
		}, nil
	}
	client.headFn = func(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
		return &s3.HeadObjectOutput{}, nil
	}

	if err := store.Put(context.Background(), "withdrawals/0xdef.json", []byte(`{"nonce":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	snap, err := store.Get(context.Background(), "withdrawals/0xdef.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got, want := string(snap.Data), `{"nonce":1}`; got != want {
		t.Fatalf("data mismatch: got %q want %q", got, want)
	}
	ok, err := store.Exists(context.Background(), "withdrawals/0xdef.json")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
}

func TestS3StoreMapsNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey", msg: "missing"}
		},
		headFn: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, fakeAPIError{code: "NotFound", msg: "missing"}
		},
	}

	store, err := New(Config{Driver: DriverS3, Bucket: "bridge-audit", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := store.Get(context.Background(), "deposits/0x1.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	ok, err := store.Exists(context.Background(), "deposits/0x1.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatalf("Exists returned true for missing key")
	}
}

func TestS3StoreMaxGetSize(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{
				Body: io.NopCloser(strings.NewReader("this payload is too large")),
			}, nil
		},
	}

	store, err := New(Config{
		Driver:     DriverS3,
		Bucket:     "bridge-audit",
		S3Client:   client,
		MaxGetSize: 8,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := store.Get(context.Background(), "deposits/0x2.json"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

type fakeS3Client struct {
	putFn  func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn  func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	headFn func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func (f *fakeS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

func (f *fakeS3Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headFn == nil {
		return &s3.HeadObjectOutput{}, nil
	}
	return f.headFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
	msg  string
}

func (f fakeAPIError) ErrorCode() string           { return f.code }
func (f fakeAPIError) ErrorMessage() string        { return f.msg }
func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (f fakeAPIError) Error() string               { return f.code + ": " + f.msg }
