package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"

	"biogate-server-go/internal/gateway/dedup"
	"biogate-server-go/internal/gateway/protocol"
	"biogate-server-go/internal/platform/logging"
	"biogate-server-go/internal/platform/observability"
	"biogate-server-go/internal/platform/storage"
)

const logTag = "Delivery"

// Pipeline validates, deduplicates and delivers a batch of punches, queueing
// transient failures for the retry scheduler.
type Pipeline struct {
	client Client
	dedup  dedup.Store
	queue  storage.CheckinQueueRepository
	logger *logging.Logger
}

func NewPipeline(client Client, dedupStore dedup.Store, queue storage.CheckinQueueRepository, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		client: client,
		dedup:  dedupStore,
		queue:  queue,
		logger: logger,
	}
}

// ProcessBatch handles every record of one log upload independently and
// composes the summary envelope for the terminal. The overall result is
// true only if every record reached the backend.
func (p *Pipeline) ProcessBatch(ctx context.Context, cmd string, records []protocol.Record, deviceID string) *protocol.Response {
	if len(records) == 0 {
		p.logger.WarnTag(logTag, "device %s sent an empty log upload", deviceID)
		return &protocol.Response{
			Ret:    cmd,
			Result: false,
			Reason: "No records provided",
		}
	}

	ctx, endSpan := observability.StartSpan(ctx, "delivery", "process_batch")

	var delivered, notFound, failed int
	details := make([]protocol.Detail, 0, len(records))

	for _, record := range records {
		detail := p.processRecord(ctx, record, deviceID)
		details = append(details, detail)

		switch detail.Status {
		case "success":
			delivered++
		case string(StatusEmployeeNotFound):
			notFound++
		default:
			failed++
		}
	}

	endSpan(nil)

	resp := &protocol.Response{
		Ret:     cmd,
		Result:  failed == 0 && notFound == 0,
		Message: summaryMessage(len(records), delivered, notFound, failed),
		Details: details,
	}

	p.logger.InfoTag(logTag, "batch processed", map[string]interface{}{
		"device":    deviceID,
		"records":   len(records),
		"delivered": delivered,
		"not_found": notFound,
		"failed":    failed,
	})
	return resp
}

// processRecord runs one punch through validation, dedup and delivery.
func (p *Pipeline) processRecord(ctx context.Context, record protocol.Record, deviceID string) protocol.Detail {
	employee := record.Name
	if employee == "" {
		employee = record.EnrollID
	}

	if !record.Complete() {
		return protocol.Detail{
			Employee: employee,
			Status:   "failed",
			Reason:   string(StatusMissingData),
		}
	}

	punchTime, err := record.PunchTime()
	if err != nil {
		p.logger.WarnTag(logTag, "rejecting punch with malformed timestamp", map[string]interface{}{
			"device": deviceID,
			"time":   record.Time,
		})
		return protocol.Detail{
			Employee: employee,
			Status:   "failed",
			Reason:   string(StatusInvalidTimestamp),
		}
	}

	if p.dedup != nil {
		seen, derr := p.dedup.Seen(ctx, dedup.Key(deviceID, record.EnrollID, record.Time))
		if derr != nil {
			p.logger.WarnTag(logTag, "dedup store unavailable, delivering anyway: %v", derr)
		} else if seen {
			observability.RecordDeliveryOutcome(ctx, deviceID, string(StatusDuplicate))
			return protocol.Detail{
				Employee: employee,
				Status:   "success",
				Reason:   string(StatusDuplicate),
			}
		}
	}

	status := p.client.Deliver(ctx, Punch{
		EnrollID:  record.EnrollID,
		Name:      record.Name,
		PunchTime: punchTime,
		DeviceID:  deviceID,
	})
	observability.RecordDeliveryOutcome(ctx, deviceID, string(status))

	if status == StatusDelivered {
		return protocol.Detail{
			Employee: employee,
			Status:   "success",
		}
	}

	if status == StatusEmployeeNotFound {
		return protocol.Detail{
			Employee: employee,
			Status:   string(StatusEmployeeNotFound),
			Reason:   fmt.Sprintf("Employee %s not registered in ERP", employee),
		}
	}

	if status.Transient() {
		p.enqueueRetry(ctx, record, toPendingCheckin(record, punchTime, deviceID, status))
	}

	return protocol.Detail{
		Employee: employee,
		Status:   "failed",
		Reason:   string(status),
	}
}

func toPendingCheckin(record protocol.Record, punchTime time.Time, deviceID string, status Status) *storage.PendingCheckin {
	checkin := &storage.PendingCheckin{
		EnrollID:  record.EnrollID,
		Name:      record.Name,
		PunchTime: punchTime,
		DeviceID:  deviceID,
		LastError: string(status),
	}
	if raw, err := sonic.Marshal(record); err == nil {
		checkin.Payload = datatypes.JSON(raw)
	}
	return checkin
}

func (p *Pipeline) enqueueRetry(ctx context.Context, record protocol.Record, checkin *storage.PendingCheckin) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Enqueue(ctx, checkin); err != nil {
		p.logger.ErrorTag(logTag, "failed to queue punch for retry", map[string]interface{}{
			"enroll_id": record.EnrollID,
			"error":     err.Error(),
		})
		return
	}
	p.logger.InfoTag(logTag, "punch queued for retry", map[string]interface{}{
		"enroll_id": record.EnrollID,
		"reason":    checkin.LastError,
	})
}

// summaryMessage phrases the batch outcome for the terminal and the logs.
func summaryMessage(total, delivered, notFound, failed int) string {
	if delivered == total {
		return fmt.Sprintf("All %d records processed successfully", total)
	}
	return fmt.Sprintf("%d of %d records processed, %d employee not found, %d failed",
		delivered, total, notFound, failed)
}
