package vk

import (
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const errTooManyRequests = 6

// WallItem is a post on a community wall.
type WallItem struct {
	ID       int64  `json:"id"`
	OwnerID  int64  `json:"owner_id"`
	FromID   int64  `json:"from_id"`
	Date     int64  `json:"date"`
	Text     string `json:"text"`
	IsPinned int    `json:"is_pinned"`
}

// Pinned posts stay on top of the wall regardless of their date.
func (w WallItem) Pinned() bool {
	return w.IsPinned == 1
}

// Group is a VK community.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
	Photo      string `json:"photo_200"`
}

// OwnerID is the wall owner id of the group; communities use negative ids.
func (g Group) OwnerID() int64 {
	return -g.ID
}

// APIError is an error object returned by the VK API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

func (e *APIError) TooManyRequests() bool {
	return e.Code == errTooManyRequests
}

type envelope struct {
	Response jsoniter.RawMessage `json:"response"`
	Error    *APIError           `json:"error"`
}

type itemsWithCount[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

// decodeItems accepts both response shapes used by the API: a bare array
// and an object with count and items.
func decodeItems[T any](raw jsoniter.RawMessage) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return items, nil
	}
	var wrapped itemsWithCount[T]
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return wrapped.Items, nil
}

// groupsByIDResponse covers groups.getById, which returns either an array or
// an object with a groups field depending on API version.
type groupsByIDResponse struct {
	Groups []Group `json:"groups"`
}

func decodeGroupsByID(raw jsoniter.RawMessage) ([]Group, error) {
	if len(raw) > 0 && raw[0] == '{' {
		var resp groupsByIDResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
		return resp.Groups, nil
	}
	return decodeItems[Group](raw)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
