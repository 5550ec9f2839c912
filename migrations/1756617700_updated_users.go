package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("_pb_users_auth_")
		if err != nil {
			return err
		}

		// add tier
		if err := collection.Fields.AddMarshaledJSONAt(-1, []byte(`{
			"hidden": false,
			"id": "select3144380399",
			"maxSelect": 1,
			"name": "tier",
			"presentable": false,
			"required": false,
			"system": false,
			"type": "select",
			"values": ["free", "lite", "standard"]
		}`)); err != nil {
			return err
		}

		// add credits
		if err := collection.Fields.AddMarshaledJSONAt(-1, []byte(`{
			"hidden": false,
			"id": "number2324737713",
			"max": null,
			"min": 0,
			"name": "credits",
			"onlyInt": false,
			"presentable": false,
			"required": false,
			"system": false,
			"type": "number"
		}`)); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("_pb_users_auth_")
		if err != nil {
			return err
		}

		collection.Fields.RemoveById("select3144380399")
		collection.Fields.RemoveById("number2324737713")

		return app.Save(collection)
	})
}
