package procurement

import (
	"fmt"

	"github.com/meridian-ims/meridian-ims/internal/notify"
)

// Workflow event types consumed by the notification dispatcher.
const (
	EventPRSubmitted = "PR_SUBMITTED"
	EventPRApproved  = "PR_APPROVED"
	EventPRRejected  = "PR_REJECTED"
	EventPOSubmitted = "PO_SUBMITTED"
	EventPOApproved  = "PO_APPROVED"
	EventPORejected  = "PO_REJECTED"
)

func prSubmittedEvent(pr PurchaseRequest, approverIDs []int64) notify.Notification {
	return notify.Notification{
		EventType:     EventPRSubmitted,
		Title:         fmt.Sprintf("PR %s submitted", pr.Number),
		Message:       "Purchase request awaits your approval",
		URL:           fmt.Sprintf("/procurement/pr/%d", pr.ID),
		TargetUserIDs: approverIDs,
	}
}

func prDecidedEvent(pr PurchaseRequest, approved bool, note string) notify.Notification {
	event, verb := EventPRApproved, "approved"
	if !approved {
		event, verb = EventPRRejected, "rejected"
	}
	return notify.Notification{
		EventType:     event,
		Title:         fmt.Sprintf("PR %s %s", pr.Number, verb),
		Message:       note,
		URL:           fmt.Sprintf("/procurement/pr/%d", pr.ID),
		TargetUserIDs: []int64{pr.RequestedBy},
	}
}

func poSubmittedEvent(po PurchaseOrder, approverIDs []int64) notify.Notification {
	return notify.Notification{
		EventType:     EventPOSubmitted,
		Title:         fmt.Sprintf("PO %s submitted", po.Number),
		Message:       "Purchase order awaits your approval",
		URL:           fmt.Sprintf("/procurement/po/%d", po.ID),
		TargetUserIDs: approverIDs,
	}
}

func poDecidedEvent(po PurchaseOrder, approved bool, note string) notify.Notification {
	event, verb := EventPOApproved, "approved"
	if !approved {
		event, verb = EventPORejected, "rejected"
	}
	return notify.Notification{
		EventType:     event,
		Title:         fmt.Sprintf("PO %s %s", po.Number, verb),
		Message:       note,
		URL:           fmt.Sprintf("/procurement/po/%d", po.ID),
		TargetUserIDs: []int64{po.CreatedBy},
	}
}
