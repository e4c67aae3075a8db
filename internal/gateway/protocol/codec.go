package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"biogate-server-go/internal/platform/errors"
)

// Command tags sent by the terminals.
const (
	CmdRegister  = "reg"
	CmdSendLog   = "sendlog"
	CmdGetAllLog = "getalllog"
	// CmdUnknown tags well-formed frames that carry no cmd key.
	CmdUnknown = "unknown"
)

// TimeLayout is the timestamp format used on the device wire, both for
// punch times and for the cloudtime field.
const TimeLayout = "2006-01-02 15:04:05"

// Record is a single attendance punch inside a log upload.
type Record struct {
	EnrollID string `json:"enrollid"`
	Name     string `json:"name"`
	Time     string `json:"time"`
}

// Complete reports whether the record carries everything delivery needs.
func (r Record) Complete() bool {
	return r.EnrollID != "" && r.Name != "" && r.Time != ""
}

// PunchTime parses the record timestamp.
func (r Record) PunchTime() (time.Time, error) {
	return time.Parse(TimeLayout, r.Time)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var aux struct {
		EnrollID interface{} `json:"enrollid"`
		Name     string      `json:"name"`
		Time     string      `json:"time"`
	}
	if err := sonic.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.EnrollID = flexString(aux.EnrollID)
	r.Name = strings.TrimSpace(aux.Name)
	r.Time = strings.TrimSpace(aux.Time)
	return nil
}

// Command is one decoded frame from a terminal.
type Command struct {
	Cmd     string
	Serial  string
	Records []Record
}

// IsLogUpload reports whether the command carries attendance records.
func (c *Command) IsLogUpload() bool {
	return c.Cmd == CmdSendLog || c.Cmd == CmdGetAllLog
}

// DecodeFrame parses one JSON frame. Only malformed JSON is a protocol
// error: unrecognised tags decode fine, and a frame without a cmd key gets
// the CmdUnknown tag. Both are left to the dispatcher's unknown-command
// policy.
func DecodeFrame(raw []byte) (*Command, error) {
	var frame struct {
		Cmd    string      `json:"cmd"`
		SN     interface{} `json:"sn"`
		Record []Record    `json:"record"`
	}
	if err := sonic.Unmarshal(raw, &frame); err != nil {
		return nil, errors.Wrap(errors.KindProtocol, "decode", "malformed frame", err)
	}
	if frame.Cmd == "" {
		frame.Cmd = CmdUnknown
	}

	return &Command{
		Cmd:     frame.Cmd,
		Serial:  flexString(frame.SN),
		Records: frame.Record,
	}, nil
}

// Detail reports the outcome of one record in a batch response.
type Detail struct {
	Employee string `json:"employee"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// Response is the envelope sent back to the terminal for every frame.
type Response struct {
	Ret       string   `json:"ret"`
	Result    bool     `json:"result"`
	CloudTime string   `json:"cloudtime,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Message   string   `json:"message,omitempty"`
	Details   []Detail `json:"details,omitempty"`
}

// EncodeResponse serializes the envelope, stamping cloudtime if unset.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.CloudTime == "" {
		resp.CloudTime = CloudTime()
	}
	data, err := sonic.Marshal(resp)
	if err != nil {
		return nil, errors.Wrap(errors.KindProtocol, "encode", "failed to encode response", err)
	}
	return data, nil
}

// CloudTime returns the current UTC time in the device wire format.
func CloudTime() string {
	return time.Now().UTC().Format(TimeLayout)
}

// flexString normalizes values terminals send either as strings or numbers.
func flexString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", value))
	}
}
