package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test JSONBMap Type Operations

func TestJSONBMap_Value_Serialization(t *testing.T) {
	data := JSONBMap{
		"name":   "test",
		"count":  float64(42),
		"active": true,
	}

	value, err := data.Value()
	require.NoError(t, err)

	// Should return JSON string
	str, ok := value.(string)
	require.True(t, ok, "Value should return string")
	assert.Contains(t, str, "name")
	assert.Contains(t, str, "test")
}

func TestJSONBMap_Value_NilMap(t *testing.T) {
	var data JSONBMap

	value, err := data.Value()
	require.NoError(t, err)
	assert.Nil(t, value, "Nil map should serialize to nil")
}

func TestJSONBMap_Scan_Deserialization(t *testing.T) {
	jsonBytes := []byte(`{"name":"test","count":42,"active":true}`)

	var data JSONBMap
	err := data.Scan(jsonBytes)

	require.NoError(t, err)
	assert.Equal(t, "test", data["name"])
	assert.Equal(t, float64(42), data["count"])
	assert.Equal(t, true, data["active"])
}

func TestJSONBMap_Scan_NilValue(t *testing.T) {
	var data JSONBMap
	err := data.Scan(nil)

	require.NoError(t, err)
	assert.NotNil(t, data, "Scanning nil should create empty map")
	assert.Len(t, data, 0)
}

func TestJSONBMap_Scan_EmptyBytes(t *testing.T) {
	var data JSONBMap
	err := data.Scan([]byte{})

	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Len(t, data, 0)
}

func TestJSONBMap_GetString(t *testing.T) {
	data := JSONBMap{
		"name": "John Doe",
		"age":  float64(30),
	}

	assert.Equal(t, "John Doe", data.GetString("name"))
	assert.Equal(t, "", data.GetString("age"), "Should return empty string for non-string type")
	assert.Equal(t, "", data.GetString("missing"), "Should return empty string for missing key")
}

func TestJSONBMap_GetInt(t *testing.T) {
	data := JSONBMap{
		"count": float64(42),
		"name":  "test",
	}

	assert.Equal(t, 42, data.GetInt("count"))
	assert.Equal(t, 0, data.GetInt("name"), "Should return 0 for non-numeric type")
	assert.Equal(t, 0, data.GetInt("missing"), "Should return 0 for missing key")
}

func TestJSONBMap_GetFloat(t *testing.T) {
	data := JSONBMap{
		"price": float64(19.99),
		"name":  "item",
	}

	assert.Equal(t, 19.99, data.GetFloat("price"))
	assert.Equal(t, 0.0, data.GetFloat("name"), "Should return 0.0 for non-numeric type")
	assert.Equal(t, 0.0, data.GetFloat("missing"), "Should return 0.0 for missing key")
}

func TestJSONBMap_GetBool(t *testing.T) {
	data := JSONBMap{
		"active": true,
		"count":  float64(42),
	}

	assert.True(t, data.GetBool("active"))
	assert.False(t, data.GetBool("count"), "Should return false for non-bool type")
	assert.False(t, data.GetBool("missing"), "Should return false for missing key")
}

func TestJSONBMap_GetMap(t *testing.T) {
	data := JSONBMap{
		"user": map[string]any{
			"name": "John",
			"age":  float64(30),
		},
		"count": float64(42),
	}

	userMap := data.GetMap("user")
	assert.Equal(t, "John", userMap["name"])
	assert.Equal(t, float64(30), userMap["age"])

	emptyMap := data.GetMap("count")
	assert.Empty(t, emptyMap, "Should return empty map for non-map type")

	missingMap := data.GetMap("missing")
	assert.NotNil(t, missingMap, "Should return non-nil empty map for missing key")
	assert.Empty(t, missingMap)
}

func TestJSONBMap_SetAndHas(t *testing.T) {
	data := make(JSONBMap)

	assert.False(t, data.Has("key"), "Should not have key initially")

	data.Set("key", "value")
	assert.True(t, data.Has("key"), "Should have key after Set")
	assert.Equal(t, "value", data["key"])
}

func TestJSONBMap_Delete(t *testing.T) {
	data := JSONBMap{
		"key1": "value1",
		"key2": "value2",
	}

	data.Delete("key1")
	assert.False(t, data.Has("key1"), "Deleted key should not exist")
	assert.True(t, data.Has("key2"), "Other keys should remain")
}

func TestJSONBMap_Clone(t *testing.T) {
	original := JSONBMap{
		"name": "test",
		"nested": map[string]any{
			"value": float64(42),
		},
	}

	cloned := original.Clone()

	// Verify clone has same values
	assert.Equal(t, original["name"], cloned["name"])

	// Modify clone
	cloned.Set("name", "modified")

	// Original should be unchanged
	assert.Equal(t, "test", original["name"])
	assert.Equal(t, "modified", cloned["name"])
}

func TestJSONBMap_Clone_NilMap(t *testing.T) {
	var original JSONBMap

	cloned := original.Clone()
	assert.NotNil(t, cloned, "Clone of nil map should return non-nil empty map")
	assert.Empty(t, cloned)
}

// Test StringArray Type Operations

func TestStringArray_Value_Serialization(t *testing.T) {
	array := StringArray{"tag1", "tag2", "tag3"}

	value, err := array.Value()
	require.NoError(t, err)

	// Should return PostgreSQL array format: {"tag1","tag2","tag3"}
	str, ok := value.(string)
	require.True(t, ok, "Value should return string")
	assert.Equal(t, `{"tag1","tag2","tag3"}`, str)
}

func TestStringArray_Value_EmptyArray(t *testing.T) {
	array := StringArray{}

	value, err := array.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", value, "Empty array should serialize to {}")
}

func TestStringArray_Value_NilArray(t *testing.T) {
	var array StringArray

	value, err := array.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", value, "Nil array should serialize to {}")
}

func TestStringArray_Scan_Deserialization(t *testing.T) {
	// PostgreSQL array format
	pgArray := []byte(`{"tag1","tag2","tag3"}`)

	var array StringArray
	err := array.Scan(pgArray)

	require.NoError(t, err)
	assert.Len(t, array, 3)
	assert.Equal(t, "tag1", array[0])
	assert.Equal(t, "tag2", array[1])
	assert.Equal(t, "tag3", array[2])
}

func TestStringArray_Scan_EmptyArray(t *testing.T) {
	var array StringArray
	err := array.Scan([]byte("{}"))

	require.NoError(t, err)
	assert.Empty(t, array)
}

func TestStringArray_Scan_NilValue(t *testing.T) {
	var array StringArray
	err := array.Scan(nil)

	require.NoError(t, err)
	assert.NotNil(t, array, "Scanning nil should create empty array")
	assert.Empty(t, array)
}

func TestStringArray_Scan_StringValue(t *testing.T) {
	// PostgreSQL might return string instead of []byte
	var array StringArray
	err := array.Scan(`{"a","b","c"}`)

	require.NoError(t, err)
	assert.Len(t, array, 3)
	assert.Equal(t, "a", array[0])
}


func TestJSONBMap_Get(t *testing.T) {
	data := JSONBMap{
		"string": "value",
		"number": float64(42),
		"bool":   true,
	}

	t.Run("existing key", func(t *testing.T) {
		value, exists := data.Get("string")
		assert.True(t, exists)
		assert.Equal(t, "value", value)
	})

	t.Run("missing key", func(t *testing.T) {
		value, exists := data.Get("missing")
		assert.False(t, exists)
		assert.Nil(t, value)
	})
}
