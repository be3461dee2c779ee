package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestCallString(t *testing.T) {
	call := NewRequestCall().
		SetBucket("b").
		SetResources(ResourcesForKey(Object, "b", "k")).
		AddRequests(GetObject, PutObject)

	assert.Equal(t,
		"{Bucket: b,[Requests: GetObject PutObject ],[Resources: (Type: OBJECT,Bucket Name: b,Path: s3://b/k)]}",
		call.String())
}

func TestEmptyRequestCall(t *testing.T) {
	call := NewRequestCall()

	assert.Empty(t, call.BucketName())
	assert.NotNil(t, call.Resources())
	assert.Empty(t, call.Resources())
	assert.Empty(t, call.Requests())
	assert.Equal(t, "{Bucket: ,[Requests: ],[Resources: ]}", call.String())
}

func TestRequestCallKeepsOrderAndDuplicates(t *testing.T) {
	call := NewRequestCall().
		AddRequests(CopyObject, GetObject).
		AddRequests(GetObject).
		AddResources(NewResource(Object, "b", "k"), NewResource(Object, "b", "k"))

	assert.Equal(t, []RequestKind{CopyObject, GetObject, GetObject}, call.Requests())
	assert.Len(t, call.Resources(), 2)
}

func TestFreeze(t *testing.T) {
	builder := NewRequestCall().
		SetBucket("b").
		AddResources(NewResource(Object, "b", "k")).
		AddRequests(GetObject)

	frozen := builder.Freeze()

	builder.SetBucket("other").
		AddResources(NewResource(Object, "other", "k2")).
		AddRequests(PutObject)

	assert.Equal(t, "b", frozen.BucketName())
	assert.Equal(t, []Resource{NewResource(Object, "b", "k")}, frozen.Resources())
	assert.Equal(t, []RequestKind{GetObject}, frozen.Requests())

	// mutating what a frozen call hands out does not leak back into it
	frozen.Requests()[0] = DeleteObject
	assert.Equal(t, []RequestKind{GetObject}, frozen.Requests())
	assert.Equal(t, builder.Freeze().String(), builder.String())
}

func TestForeignResources(t *testing.T) {
	call := NewRequestCall().
		SetBucket("dest").
		AddResources(
			NewResource(Object, "dest", "copy"),
			NewResource(Object, "source", "original"),
		)

	foreign := ForeignResources(call)
	assert.Equal(t, []Resource{NewResource(Object, "source", "original")}, foreign)
	assert.Empty(t, ForeignResources(NewRequestCall()))
}
