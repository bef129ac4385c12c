package mongo

import (
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lostfound/internal/models"
)

// side pairs a stored participant field with its unread counter.
type side struct {
	participant string
	counter     string
}

var sides = []side{
	{"participant_low", "unread_low"},
	{"participant_high", "unread_high"},
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

var oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

var recentlyActiveFirst = bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: -1}}

// sideFilter matches conversation id only when userID sits on s, plus any
// extra conditions on the counter.
func sideFilter(id, userID string, s side, guard bson.M) bson.M {
	filter := bson.M{"_id": id, s.participant: userID}
	for k, v := range guard {
		filter[k] = v
	}
	return filter
}

func recordMessageUpdate(counter, content string, at time.Time) bson.M {
	return bson.M{
		"$set": bson.M{"last_message_at": at, "last_message_content": content},
		"$inc": bson.M{counter: 1},
	}
}

func positiveGuard(counter string) bson.M {
	return bson.M{counter: bson.M{"$gt": 0}}
}

func decrementUpdate(counter string) bson.M {
	return bson.M{"$inc": bson.M{counter: -1}}
}

func resetUpdate(counter string) bson.M {
	return bson.M{"$set": bson.M{counter: 0}}
}

func equalsGuard(counter string, expected int64) bson.M {
	return bson.M{counter: expected}
}

func setCounterUpdate(counter string, n int64) bson.M {
	return bson.M{"$set": bson.M{counter: n}}
}

func sumUnreadPipeline(userID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"participant_ids": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"total": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$participant_low", userID}},
				"$unread_low",
				"$unread_high",
			}}},
		}}},
	}
}

func userConversationsFilter(userID string, includeArchived bool) bson.M {
	filter := bson.M{"participant_ids": userID}
	if !includeArchived {
		filter["is_archived"] = false
	}
	return filter
}

// pageFilter selects the messages of a conversation that sort strictly after
// the cursor in newest-first order.
func pageFilter(conversationID string, before *models.Cursor) bson.M {
	filter := bson.M{"conversation_id": conversationID}
	if before != nil {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": before.CreatedAt}},
			bson.M{"created_at": before.CreatedAt, "_id": bson.M{"$lt": before.MessageID}},
		}
	}
	return filter
}

func unreadFilter(receiverID, conversationID string) bson.M {
	filter := bson.M{
		"receiver_id": receiverID,
		"status":      bson.M{"$ne": string(models.StatusRead)},
		"is_deleted":  false,
	}
	if conversationID != "" {
		filter["conversation_id"] = conversationID
	}
	return filter
}

func searchFilter(userID, query string) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"sender_id": userID},
			bson.M{"receiver_id": userID},
		},
		"is_deleted": false,
		"content":    bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"},
	}
}
