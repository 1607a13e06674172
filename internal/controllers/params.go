package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FlexibleString allows JSON fields to be provided as string or number.
// SEB clients send version strings like 3.5 unquoted.
type FlexibleString string

func (fs *FlexibleString) UnmarshalJSON(data []byte) error {
	if fs == nil {
		return fmt.Errorf("FlexibleString: nil receiver")
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*fs = FlexibleString(strings.TrimSpace(s))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		*fs = FlexibleString(num.String())
		return nil
	}

	return fmt.Errorf("FlexibleString: expected string or number, got %s", string(data))
}

func (fs FlexibleString) String() string {
	return string(fs)
}

// FlexibleFloat accepts a JSON number or a numeric string. NaN and the
// infinities are rejected.
type FlexibleFloat float64

func (ff *FlexibleFloat) UnmarshalJSON(data []byte) error {
	var s FlexibleString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*ff = 0
		return nil
	}
	v, err := strconv.ParseFloat(s.String(), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("FlexibleFloat: %q is not a finite number", s)
	}
	*ff = FlexibleFloat(v)
	return nil
}

// millisTime turns a client timestamp in unix milliseconds into a time.
// Zero means the client did not send one.
func millisTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// uuidParam reads a path parameter that must be a UUID and answers 400 otherwise.
func uuidParam(c *gin.Context, name string) (string, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return "", false
	}
	return id.String(), true
}

func examIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("exam_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam_id"})
		return 0, false
	}
	return uint(id), true
}
