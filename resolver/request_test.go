package resolver

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
)

func TestMapRequestKindRoundTrip(t *testing.T) {
	kinds := RequestKinds()
	assert.NotEmpty(t, kinds)

	for _, kind := range kinds {
		mapped, ok := MapRequestKind(kind.String())
		assert.True(t, ok, kind)
		assert.Equal(t, kind, mapped)
		assert.True(t, kind.Valid())
		assert.NotEmpty(t, kind.AccessLevel(), kind)
	}
}

func TestMapRequestKindMiss(t *testing.T) {
	tests := []string{"", "getobject", "GetObjectRequest", "DescribeInstances"}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			kind, ok := MapRequestKind(name)
			assert.False(t, ok)
			assert.Empty(t, kind)
		})
	}
}

func TestRequestKindOf(t *testing.T) {
	tests := map[string]struct {
		input    any
		expected RequestKind
		ok       bool
	}{
		"get object":        {input: &s3.GetObjectInput{}, expected: GetObject, ok: true},
		"put object":        {input: &s3.PutObjectInput{}, expected: PutObject, ok: true},
		"list v2":           {input: &s3.ListObjectsV2Input{}, expected: ListObjectsV2, ok: true},
		"upload part":       {input: &s3.UploadPartInput{}, expected: UploadPart, ok: true},
		"value input":       {input: s3.HeadObjectInput{}, expected: HeadObject, ok: true},
		"copy":              {input: &s3.CopyObjectInput{}, expected: CopyObject, ok: true},
		"not an s3 request": {input: &sts.AssumeRoleInput{}, ok: false},
		"nil":               {input: nil, ok: false},
		"unrelated type":    {input: 42, ok: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			kind, ok := RequestKindOf(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, kind)
		})
	}
}

func TestRequestKindsAreSorted(t *testing.T) {
	kinds := RequestKinds()
	for i := 1; i < len(kinds); i++ {
		assert.Less(t, string(kinds[i-1]), string(kinds[i]))
	}
}

func TestRequestKindsWithAccess(t *testing.T) {
	reads := RequestKindsWithAccess(AccessRead)
	assert.Contains(t, reads, GetObject)
	assert.Contains(t, reads, HeadObject)
	assert.NotContains(t, reads, PutObject)

	writes := RequestKindsWithAccess(AccessWrite)
	assert.Contains(t, writes, PutObject)
	assert.Contains(t, writes, UploadPart)
	assert.Contains(t, writes, DeleteObjects)

	lists := RequestKindsWithAccess(AccessList)
	assert.Contains(t, lists, ListObjectsV2)

	total := len(reads) + len(writes) + len(lists) + len(RequestKindsWithAccess(AccessAdmin))
	assert.Equal(t, len(RequestKinds()), total)
}

func TestParseAccessLevel(t *testing.T) {
	level, ok := ParseAccessLevel("Read")
	assert.True(t, ok)
	assert.Equal(t, AccessRead, level)

	_, ok = ParseAccessLevel("execute")
	assert.False(t, ok)
}
