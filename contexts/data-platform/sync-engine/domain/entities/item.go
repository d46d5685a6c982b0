package entities

import (
	"encoding/json"
	"fmt"

	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
)

// Item is one entity in a generic collection, held as a decoded JSON object.
type Item map[string]any

// ID returns the item's "id" member or "" when missing or not a string.
func (i Item) ID() string {
	if i == nil {
		return ""
	}
	id, _ := i["id"].(string)
	return id
}

// Clone returns a shallow copy.
func (i Item) Clone() Item {
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// Merge applies patch on top of a copy of i. The id member is never patched.
func (i Item) Merge(patch Item) Item {
	out := i.Clone()
	for k, v := range patch {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// ItemFrom converts any JSON-serializable value into an Item.
func ItemFrom(value any) (Item, error) {
	if item, ok := value.(Item); ok {
		return item, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", domainerrors.ErrInvalidItem)
	}
	return item, nil
}

// DecodeItems parses a stored collection. A null payload is an empty collection.
func DecodeItems(raw json.RawMessage) ([]Item, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode collection: %w", domainerrors.ErrSerialization)
	}
	return items, nil
}

// ConvertItem decodes an Item into a typed record.
func ConvertItem[T any](item Item) (T, error) {
	var out T
	raw, err := json.Marshal(item)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("convert item: %w", domainerrors.ErrSerialization)
	}
	return out, nil
}
