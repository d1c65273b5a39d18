package server

//go:generate swag init -g internal/server/server.go -o docs/swagger

// @title Scanflow API
// @version 0.1
// @description Local API for submitting website audits and following them to completion.
// @contact.name Scanflow Maintainers
// @contact.url https://github.com/raysh454/scanflow
// @BasePath /
