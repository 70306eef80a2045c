package handlers

import "github.com/gofiber/fiber/v3"

// ErrSessionNotFound is returned when no session exists for the given ID
var ErrSessionNotFound = fiber.NewError(fiber.StatusNotFound, "session not found")

// ErrInvalidBody is returned when a request body cannot be decoded
var ErrInvalidBody = fiber.NewError(fiber.StatusBadRequest, "invalid request body")

// ErrGrainRequired is returned when a stage is requested before a grain is built
var ErrGrainRequired = fiber.NewError(fiber.StatusConflict, "no grain built for this session")

// ErrTargetRequired is returned when a target stage is requested before a target is defined
var ErrTargetRequired = fiber.NewError(fiber.StatusConflict, "no target defined for this session")

// ErrAssemblyRequired is returned when validation or export is requested before assembly
var ErrAssemblyRequired = fiber.NewError(fiber.StatusConflict, "no dataset assembled for this session")

// ErrNotValidated is returned when export is requested without a passing validation
var ErrNotValidated = fiber.NewError(fiber.StatusConflict, "dataset SQL has not passed validation")
