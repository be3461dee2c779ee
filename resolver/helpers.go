package resolver

import "github.com/samber/lo"

// ResourcesForKeys builds one resource per key, in key order.
func ResourcesForKeys(t ResourceType, bucket string, keys []string) []Resource {
	return lo.Map(keys, func(key string, _ int) Resource {
		return NewResource(t, bucket, key)
	})
}

// ResourcesForKey builds a single resource list.
func ResourcesForKey(t ResourceType, bucket, key string) []Resource {
	return []Resource{NewResource(t, bucket, key)}
}

// ResourcesForBucket builds a single resource list without key.
func ResourcesForBucket(t ResourceType, bucket string) []Resource {
	return []Resource{NewResource(t, bucket, "")}
}

// RequestKindsOf maps SDK operation inputs to request kinds, in order,
// leaving out the ones that are not in the catalog.
func RequestKindsOf(inputs ...any) []RequestKind {
	return lo.FilterMap(inputs, func(input any, _ int) (RequestKind, bool) {
		return RequestKindOf(input)
	})
}
