package incident

import (
	"strings"

	"threatbench/pkg/models"
)

// EntitiesFromEvent extracts the entities a Sysmon event references. The
// acting host and account are always included when present; the remaining
// entities depend on the event id.
func EntitiesFromEvent(ev *models.Event) []models.Entity {
	if ev == nil {
		return nil
	}

	var out []models.Entity
	add := func(e models.Entity) {
		if e.Validate() == nil {
			out = append(out, e)
		}
	}

	add(models.Host{HostName: ev.Host()})
	if user := ev.FirstField("User", "SourceUser"); user != "" {
		add(accountFromUser(user))
	}

	switch ev.EventID {
	case 1:
		add(actingProcess(ev))
		if parent := ev.Field("ParentProcessGuid"); parent != "" {
			add(models.Process{ProcessID: parent, CommandLine: ev.Field("ParentCommandLine"), ImageFile: ev.Field("ParentImage")})
		}
		if image := ev.Field("Image"); image != "" {
			add(fileFromPath(image))
		}
		if sha := extractHash(ev.Field("Hashes"), "SHA256"); sha != "" {
			add(models.FileHash{Algorithm: "SHA256", Value: strings.ToLower(sha)})
		}
	case 3:
		add(actingProcess(ev))
		add(models.IP{Address: ev.FirstField("DestinationIp", "DestinationIP")})
		if host := ev.Field("DestinationHostname"); host != "" {
			add(models.DNS{DomainName: strings.ToLower(host)})
		}
	case 7:
		add(actingProcess(ev))
		if loaded := ev.Field("ImageLoaded"); loaded != "" {
			add(fileFromPath(loaded))
		}
	case 8, 10:
		add(models.Process{ProcessID: ev.Field("SourceProcessGuid"), ImageFile: ev.Field("SourceImage")})
		add(models.Process{ProcessID: ev.Field("TargetProcessGuid"), ImageFile: ev.Field("TargetImage")})
	case 11:
		add(actingProcess(ev))
		if target := ev.FirstField("TargetFilename", "TargetFileName"); target != "" {
			add(fileFromPath(target))
		}
	case 12, 13, 14:
		add(actingProcess(ev))
		add(models.RegistryKey{Key: ev.Field("TargetObject")})
	case 22:
		add(actingProcess(ev))
		add(models.DNS{DomainName: strings.ToLower(ev.FirstField("QueryName", "Query"))})
	}
	return out
}

func actingProcess(ev *models.Event) models.Process {
	return models.Process{
		ProcessID:   ev.FirstField("ProcessGuid", "SourceProcessGuid"),
		CommandLine: ev.Field("CommandLine"),
		ImageFile:   ev.Field("Image"),
	}
}

func accountFromUser(user string) models.Account {
	if domain, name, ok := strings.Cut(user, `\`); ok {
		return models.Account{Name: name, UPNSuffix: strings.ToLower(domain)}
	}
	return models.Account{Name: user}
}

func fileFromPath(path string) models.File {
	i := strings.LastIndexAny(path, `\/`)
	if i < 0 {
		return models.File{Name: path}
	}
	return models.File{Name: path[i+1:], Directory: path[:i]}
}

func extractHash(hashes, key string) string {
	key = strings.ToUpper(key) + "="
	for _, part := range strings.Split(hashes, ",") {
		for _, kv := range strings.Split(part, ";") {
			kv = strings.TrimSpace(kv)
			if strings.HasPrefix(strings.ToUpper(kv), key) {
				return strings.TrimSpace(kv[len(key):])
			}
		}
	}
	return ""
}
