// Package kubernetes provides a tether.Store for keys of Kubernetes
// ConfigMaps and Secrets using the Watch API.
package kubernetes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zoobzio/tether"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// DefaultRetryDelay is how long a subscription waits before re-establishing
// a failed watch.
const DefaultRetryDelay = time.Second

// ResourceType specifies the type of Kubernetes resource to read.
type ResourceType int

const (
	// ConfigMap reads ConfigMap resources.
	ConfigMap ResourceType = iota
	// Secret reads Secret resources.
	Secret
)

// Ref names one data key of a ConfigMap or Secret. The zero Ref is the
// null reference.
type Ref struct {
	Namespace string
	Name      string
	Key       string
}

// String returns namespace/name/key.
func (r Ref) String() string {
	return r.Namespace + "/" + r.Name + "/" + r.Key
}

// Store reads and watches a single data key of a resource as a
// tether.Document. A missing resource and a resource without the key both
// yield a Document whose Exists reports false. Document revisions are the
// resource's ResourceVersion when it is numeric.
//
// SourceCache reads are served from the API server's watch cache
// (resourceVersion "0") and may be stale. ListenOptions.Source is ignored.
type Store struct {
	client       kubernetes.Interface
	resourceType ResourceType
	codec        tether.Codec
	retryDelay   time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithResourceType sets the resource type to read.
// Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(s *Store) {
		s.resourceType = rt
	}
}

// WithCodec sets the codec Documents are decoded with. Defaults to JSON.
func WithCodec(codec tether.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithRetryDelay sets the pause before a failed watch is re-established.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// New creates a Store over client.
func New(client kubernetes.Interface, opts ...Option) *Store {
	s := &Store{
		client:       client,
		resourceType: ConfigMap,
		codec:        tether.JSONCodec{},
		retryDelay:   DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefEqual reports whether two references name the same key.
func (*Store) RefEqual(a, b Ref) bool {
	return a == b
}

// FetchOnce reads the key named by ref.
func (s *Store) FetchOnce(ctx context.Context, ref Ref, source tether.Source) (tether.Document, error) {
	opts := metav1.GetOptions{}
	if source == tether.SourceCache {
		opts.ResourceVersion = "0"
	}
	doc, _, err := s.get(ctx, ref, opts)
	return doc, err
}

// Subscribe delivers the current value of the key, then a new Document for
// every change to the resource. A failed watch is reported through onError
// and re-established after a fresh read.
func (s *Store) Subscribe(ctx context.Context, ref Ref, _ tether.ListenOptions, onNext func(tether.Document), onError func(error)) tether.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			err := s.watchLoop(ctx, ref, onNext)
			if ctx.Err() != nil {
				return
			}
			onError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
		}
	}()

	return tether.Unsubscribe(cancel)
}

func (s *Store) watchLoop(ctx context.Context, ref Ref, onNext func(tether.Document)) error {
	doc, resourceVersion, err := s.get(ctx, ref, metav1.GetOptions{})
	if err != nil {
		return err
	}
	onNext(doc)

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", ref.Name),
		ResourceVersion: resourceVersion,
		Watch:           true,
	}

	var watcher watch.Interface
	if s.resourceType == ConfigMap {
		watcher, err = s.client.CoreV1().ConfigMaps(ref.Namespace).Watch(ctx, opts)
	} else {
		watcher, err = s.client.CoreV1().Secrets(ref.Namespace).Watch(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to start watch on %s: %w", ref, err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch on %s closed", ref)
			}

			switch event.Type {
			case watch.Error:
				return fmt.Errorf("watch on %s: %w", ref, apierrors.FromObject(event.Object))
			case watch.Deleted:
				onNext(tether.MissingDocument(ref.String(), s.codec))
			case watch.Added, watch.Modified:
				if doc, ok := s.extract(event.Object, ref); ok {
					onNext(doc)
				}
			}
		}
	}
}

// get reads the resource and returns the Document and its resource version.
func (s *Store) get(ctx context.Context, ref Ref, opts metav1.GetOptions) (tether.Document, string, error) {
	var (
		obj any
		rv  string
		err error
	)
	if s.resourceType == ConfigMap {
		var cm *corev1.ConfigMap
		cm, err = s.client.CoreV1().ConfigMaps(ref.Namespace).Get(ctx, ref.Name, opts)
		if err == nil {
			obj, rv = cm, cm.ResourceVersion
		}
	} else {
		var secret *corev1.Secret
		secret, err = s.client.CoreV1().Secrets(ref.Namespace).Get(ctx, ref.Name, opts)
		if err == nil {
			obj, rv = secret, secret.ResourceVersion
		}
	}
	if apierrors.IsNotFound(err) {
		return tether.MissingDocument(ref.String(), s.codec), "", nil
	}
	if err != nil {
		return tether.Document{}, "", fmt.Errorf("failed to get %s: %w", ref, err)
	}
	doc, _ := s.extract(obj, ref)
	return doc, rv, nil
}

// extract returns the Document for ref held by obj. It reports false when
// obj is not a resource of the configured type and name.
func (s *Store) extract(obj any, ref Ref) (tether.Document, bool) {
	var (
		meta  metav1.ObjectMeta
		value []byte
		found bool
	)
	switch r := obj.(type) {
	case *corev1.ConfigMap:
		if s.resourceType != ConfigMap {
			return tether.Document{}, false
		}
		meta = r.ObjectMeta
		var str string
		str, found = r.Data[ref.Key]
		value = []byte(str)
		if !found {
			value, found = r.BinaryData[ref.Key]
		}
	case *corev1.Secret:
		if s.resourceType != Secret {
			return tether.Document{}, false
		}
		meta = r.ObjectMeta
		value, found = r.Data[ref.Key]
	default:
		return tether.Document{}, false
	}
	if meta.Name != ref.Name {
		return tether.Document{}, false
	}
	if !found {
		return tether.MissingDocument(ref.String(), s.codec), true
	}
	revision, _ := strconv.ParseInt(meta.ResourceVersion, 10, 64)
	return tether.NewDocument(ref.String(), value, revision, s.codec), true
}

var _ tether.Store[Ref, tether.Document] = (*Store)(nil)
