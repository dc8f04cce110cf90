package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/matthewmerkas/kit-server/internal/domain/model"
)

func TestPopulationStagesMessages(t *testing.T) {
	caller := &model.Caller{ID: "6568a1b2c3d4e5f601020304", Roles: []string{}}
	stages := PopulationStages(Messages(), caller)

	// Связь peer: lookup + unwind.
	if len(stages) != 2 {
		t.Fatalf("ожидаются 2 стадии, получено %d", len(stages))
	}
	if stages[0][0].Key != "$lookup" {
		t.Errorf("первая стадия = %s, ожидается $lookup", stages[0][0].Key)
	}

	lookup := stages[0][0].Value.(bson.M)
	if lookup["from"] != "users" {
		t.Errorf("from = %v, ожидается users", lookup["from"])
	}
	if lookup["localField"] != "peer" {
		t.Errorf("localField = %v, ожидается peer", lookup["localField"])
	}

	// Sub-конвейер скрывает чувствительные поля и накладывает никнейм.
	sub := lookup["pipeline"].(bson.A)
	if len(sub) < 2 {
		t.Fatalf("sub-конвейер должен содержать проекцию и наложение никнейма, получено %d стадий", len(sub))
	}
	proj := sub[0].(bson.D)[0].Value.(bson.M)
	if proj["password"] != 0 || proj["fcmTokens"] != 0 {
		t.Errorf("чувствительные поля не скрыты: %v", proj)
	}

	// Left-join: отсутствие собеседника не отфильтровывает документ.
	unwind := stages[1][0].Value.(bson.M)
	if unwind["preserveNullAndEmptyArrays"] != true {
		t.Error("unwind должен сохранять документы без совпадений")
	}
}

func TestPopulationStagesNicknameOverlay(t *testing.T) {
	caller := &model.Caller{ID: "6568a1b2c3d4e5f601020304", Roles: []string{}}
	stages := PopulationStages(Users(), caller)

	// lookup никнеймов + addFields + project.
	if len(stages) != 3 {
		t.Fatalf("ожидаются 3 стадии наложения, получено %d", len(stages))
	}

	lookup := stages[0][0].Value.(bson.M)
	if lookup["from"] != "nicknames" {
		t.Errorf("from = %v, ожидается nicknames", lookup["from"])
	}

	addFields := stages[1][0]
	if addFields.Key != "$addFields" {
		t.Errorf("вторая стадия = %s, ожидается $addFields", addFields.Key)
	}
	if _, ok := addFields.Value.(bson.M)["nickname"]; !ok {
		t.Error("наложение должно устанавливать поле nickname")
	}

	// Служебный массив не должен попадать в ответ.
	project := stages[2][0].Value.(bson.M)
	if project["viewerNicknames"] != 0 {
		t.Error("служебный массив viewerNicknames должен скрываться")
	}
}

func TestPopulationStagesNilCaller(t *testing.T) {
	// Без вызывающего наложение никнейма не строится, но падения нет.
	stages := PopulationStages(Users(), nil)
	if len(stages) != 0 {
		t.Errorf("без вызывающего стадий быть не должно, получено %d", len(stages))
	}
}
