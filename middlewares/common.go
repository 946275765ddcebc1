// Package middlewares contains the post-dispatch hooks that run around every
// job execution: in-app/Slack announcements, per-job email, and notification
// deduplication.
package middlewares

import "reflect"

// IsEmpty reports whether a middleware config struct carries only zero
// values, in which case its constructor returns no middleware at all.
func IsEmpty(i interface{}) bool {
	t := reflect.TypeOf(i).Elem()
	e := reflect.New(t).Interface()

	return reflect.DeepEqual(i, e)
}

// BoolPtr returns a pointer to the given bool value.
func BoolPtr(v bool) *bool {
	return &v
}
