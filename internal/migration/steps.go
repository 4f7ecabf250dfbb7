package migration

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"go-pagewatch/internal/data"
)

type rawItem struct {
	rec  data.Record
	body map[string]interface{}
}

func decodeAll(records []data.Record) ([]*rawItem, error) {
	items := make([]*rawItem, 0, len(records))
	for _, rec := range records {
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body, &body); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
		}
		items = append(items, &rawItem{rec: rec, body: body})
	}
	return items, nil
}

func (r *rawItem) encode() (data.Record, error) {
	body, err := json.Marshal(r.body)
	if err != nil {
		return data.Record{}, fmt.Errorf("encode record %s: %w", r.rec.ID, err)
	}
	rec := r.rec
	rec.Body = body
	return rec, nil
}

// transformPages runs fn on every page body and re-encodes those it changed.
func transformPages(records []data.Record, fn func(body map[string]interface{}) bool) ([]data.Record, error) {
	items, err := decodeAll(records)
	if err != nil {
		return nil, err
	}
	var changed []data.Record
	for _, item := range items {
		if item.rec.Type != data.TypePage || !fn(item.body) {
			continue
		}
		rec, err := item.encode()
		if err != nil {
			return nil, err
		}
		changed = append(changed, rec)
	}
	return changed, nil
}

// renameScanRate moves the legacy scanRateMinutes field to
// scanIntervalMinutes.
func renameScanRate(records []data.Record) ([]data.Record, error) {
	return transformPages(records, func(body map[string]interface{}) bool {
		old, ok := body["scanRateMinutes"]
		if !ok {
			return false
		}
		if _, exists := body["scanIntervalMinutes"]; !exists {
			body["scanIntervalMinutes"] = old
		}
		delete(body, "scanRateMinutes")
		return true
	})
}

// splitPageState converts the legacy state string into changeType and
// changeFlagged.
func splitPageState(records []data.Record) ([]data.Record, error) {
	return transformPages(records, func(body map[string]interface{}) bool {
		state, ok := body["state"].(string)
		if !ok {
			if _, present := body["state"]; present {
				delete(body, "state")
				return true
			}
			return false
		}
		switch state {
		case "changed":
			body["changeType"] = string(data.ChangeMajor)
			body["changeFlagged"] = true
		case "error":
			if _, ok := body["changeType"]; !ok {
				body["changeType"] = string(data.ChangeNone)
			}
			body["changeFlagged"] = false
		default:
			body["changeType"] = string(data.ChangeNone)
			body["changeFlagged"] = false
		}
		delete(body, "state")
		return true
	})
}

// rebuildChildren makes every folder's childIds agree with the parent
// pointers of the other items. Existing order is kept, missing children are
// appended sorted by id and stale ids are dropped.
func rebuildChildren(records []data.Record) ([]data.Record, error) {
	items, err := decodeAll(records)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]string)
	for _, item := range items {
		if item.rec.ID == data.RootID {
			continue
		}
		parent, _ := item.body["parentId"].(string)
		children[parent] = append(children[parent], item.rec.ID)
	}

	var changed []data.Record
	for _, item := range items {
		if item.rec.Type != data.TypeFolder {
			continue
		}
		want := children[item.rec.ID]
		owned := make(map[string]bool, len(want))
		for _, id := range want {
			owned[id] = true
		}

		var rebuilt []string
		listed := make(map[string]bool)
		current, _ := item.body["childIds"].([]interface{})
		for _, v := range current {
			id, ok := v.(string)
			if !ok || !owned[id] || listed[id] {
				continue
			}
			listed[id] = true
			rebuilt = append(rebuilt, id)
		}
		var missing []string
		for _, id := range want {
			if !listed[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		rebuilt = append(rebuilt, missing...)

		if sameIDs(current, rebuilt) {
			continue
		}
		if rebuilt == nil {
			rebuilt = []string{}
		}
		item.body["childIds"] = rebuilt
		rec, err := item.encode()
		if err != nil {
			return nil, err
		}
		changed = append(changed, rec)
	}
	return changed, nil
}

func sameIDs(current []interface{}, ids []string) bool {
	asStrings := make([]string, 0, len(current))
	for _, v := range current {
		s, ok := v.(string)
		if !ok {
			return false
		}
		asStrings = append(asStrings, s)
	}
	if len(asStrings) == 0 && len(ids) == 0 {
		return true
	}
	return reflect.DeepEqual(asStrings, ids)
}
