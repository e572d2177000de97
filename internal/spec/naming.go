package spec

import "fmt"

const containerNameMaxLen = 255

// ContainerName derives the container name for a service. Names are
// deterministic so a re-run finds the containers of the previous run.
// Format: stackup-{project}-{service}
func ContainerName(project, service string) string {
	project, service = truncateNameParts(project, service)
	return fmt.Sprintf("stackup-%s-%s", project, service)
}

func truncateNameParts(project, service string) (string, string) {
	const fixedLen = len("stackup--")
	maxPartsLen := containerNameMaxLen - fixedLen
	if len(project)+len(service) <= maxPartsLen {
		return project, service
	}

	over := len(project) + len(service) - maxPartsLen
	if over < len(project) {
		return project[:len(project)-over], service
	}

	over -= len(project)
	if over < len(service) {
		return "", service[:len(service)-over]
	}
	return "", ""
}
