// Package plugin discovers plugin bundles and validates their manifests.
//
// Each plugin lives in its own directory below the plugins directory. The
// directory name is the plugin id:
//
//	plugins/
//	├── notes-plugin/
//	│   ├── manifest.json
//	│   ├── index.html
//	│   └── service.lua
//	└── clock/
//	    ├── manifest.json
//	    └── index.html
//
// # Manifest
//
// manifest.json declares the surface entry point, an optional backend
// module, the tables the plugin needs and its trust level:
//
//	{
//	  "name": "Notes",
//	  "entryPoint": "index.html",
//	  "service": "service.lua",
//	  "trustLevel": "sandboxed",
//	  "tables": [
//	    {"name": "notes", "columns": [
//	      {"name": "id", "type": "INTEGER PRIMARY KEY AUTOINCREMENT"},
//	      {"name": "content", "type": "TEXT"}
//	    ]}
//	  ]
//	}
//
// Every declared path must resolve to an existing file inside the plugin
// directory. Table names become plugin_<prefix>_<name> in the store, where
// the prefix is derived from the id (see store.Prefix).
//
// # Registry
//
// A Registry scans the directory. A plugin whose manifest is invalid, or
// whose table namespace collides with another plugin's, is excluded and
// recorded in Failures; the rest still load:
//
//	reg := plugin.NewRegistry(dir, plugin.WithLogger(logger))
//	descriptors, err := reg.Load(ctx)
//
// Descriptors are immutable. A reload, such as the one a Watcher triggers,
// replaces the whole set.
package plugin
