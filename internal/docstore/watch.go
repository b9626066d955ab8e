package docstore

import (
	"context"
	"reflect"
)

// SubscribeDocument streams the state of a single document. Each snapshot
// holds the document, or no documents while it does not exist. Snapshots
// are only emitted when the document actually changes.
func SubscribeDocument(ctx context.Context, s Store, path string) (*Subscription, error) {
	collection, id, err := Split(path)
	if err != nil {
		return nil, err
	}
	parent, err := s.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}

	out := NewSubscription(ctx, path)
	out.OnStop(parent.Unsubscribe)

	go func() {
		defer out.Unsubscribe()
		var (
			seq     uint64
			last    *Document
			emitted bool
		)
		for {
			select {
			case snap, ok := <-parent.Snapshots():
				if !ok {
					return
				}
				current := find(snap.Docs, id)
				if emitted && sameDocument(last, current) {
					continue
				}
				seq++
				docs := []Document{}
				if current != nil {
					docs = append(docs, *current)
				}
				out.Deliver(Snapshot{Collection: path, Docs: docs, Seq: seq})
				last, emitted = current, true
			case err := <-parent.Errors():
				out.Fail(err)
			case <-out.Done():
				return
			}
		}
	}()
	return out, nil
}

func find(docs []Document, id string) *Document {
	for i := range docs {
		if docs[i].ID == id {
			d := docs[i]
			return &d
		}
	}
	return nil
}

func sameDocument(a, b *Document) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a.Data, b.Data)
}
