package client

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var roomWords = [][]string{
	{
		"kitten", "puppy", "panda", "otter", "fox", "penguin", "dolphin",
		"robin", "sparrow", "narwhal", "raccoon", "hedgehog",
	},
	{
		"waffle", "ramen", "taco", "sushi", "dumpling", "pancake", "noodle",
		"biscuit", "muffin", "pretzel", "gnocchi", "falafel",
	},
	{
		"sunbeam", "stardust", "ember", "meadow", "willow", "breeze",
		"marble", "echo", "pixel", "glimmer", "cocoa", "maple",
	},
	{
		"tiny", "happy", "sleepy", "cozy", "shiny", "jolly", "sparkly",
		"mellow", "breezy", "silly", "lucky", "cheery",
	},
}

// RandomRoomID builds a memorable room id like "otter-taco-ember-cozy": one
// word from each pool, hyphen joined. Room ids are opaque to the server, so
// collisions just mean joining the same room.
func RandomRoomID() string {
	parts := make([]string, len(roomWords))
	for i, pool := range roomWords {
		parts[i] = pool[randomIndex(len(pool))]
	}
	return fmt.Sprintf("%s-%s-%s-%s", parts[0], parts[1], parts[2], parts[3])
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("random index: %v", err))
	}
	return int(n.Int64())
}
