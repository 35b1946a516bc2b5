package repository

import "go.mongodb.org/mongo-driver/bson/primitive"

// ParseID converts a hex id coming off the wire. Ids that are not valid
// ObjectIDs cannot exist in the store and are reported as not ok.
func ParseID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}

func Hex(ids []primitive.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}
